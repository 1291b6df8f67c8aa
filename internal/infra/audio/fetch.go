package audio

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// maxSourceSize bounds a downloaded source. Previews are short clips.
const maxSourceSize = 32 << 20

type format int

const (
	formatMP3 format = iota
	formatWAV
)

func (f format) String() string {
	switch f {
	case formatMP3:
		return "mp3"
	case formatWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// fetcher downloads sources over HTTP.
type fetcher struct {
	httpClient *http.Client
}

func newFetcher(timeout time.Duration) *fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &fetcher{httpClient: &http.Client{Timeout: timeout}}
}

// validateSource checks that src is an absolute http(s) URL.
func validateSource(src string) error {
	u, err := url.Parse(src)
	if err != nil {
		return errors.Wrapf(err, "invalid source %q", src)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("unsupported source scheme: %q", u.Scheme)
	}
	return nil
}

// fetch downloads src and reports its audio format.
func (f *fetcher) fetch(ctx context.Context, src string) ([]byte, format, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create request")
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to fetch source")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, errors.Newf("source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read source")
	}
	if len(body) > maxSourceSize {
		return nil, 0, errors.Newf("source exceeds %d bytes", maxSourceSize)
	}

	return body, detectFormat(resp.Header.Get("Content-Type"), src), nil
}

// detectFormat picks the decoder from the content type, then the URL extension.
// Unknown sources are treated as MP3.
func detectFormat(contentType, src string) format {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
			return formatWAV
		case "audio/mpeg", "audio/mp3":
			return formatMP3
		}
	}

	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".wav") {
		return formatWAV
	}
	return formatMP3
}
