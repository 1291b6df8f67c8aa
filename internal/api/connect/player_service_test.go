package connect

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cratebox/internal/app/engine"
	"github.com/osa030/cratebox/internal/app/session"
	"github.com/osa030/cratebox/internal/domain/track"
	"github.com/osa030/cratebox/internal/infra/audio"
	"github.com/osa030/cratebox/internal/infra/catalog"
	"github.com/osa030/cratebox/internal/infra/config"
	"github.com/osa030/cratebox/internal/infra/frame"
)

const testToken = "secret-token"

type stubCatalog struct{}

func (stubCatalog) Search(_ context.Context, _ string, _ int) (catalog.Result, error) {
	return catalog.Result{
		DisplayName: "Catalog",
		Items: []track.Item{
			{
				ID:         7,
				Title:      "Warehouse",
				ArtistName: "DJ K",
				BPM:        128,
				KeyText:    "5A",
				PreviewURL: "https://cdn.example.com/7.mp3",
				Links:      []track.Link{{ID: 70, Source: "Bandcamp", URL: "https://buy.example.com/7"}},
			},
			{
				ID:         8,
				Title:      "Afterhours",
				ArtistName: "DJ L",
			},
		},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{ControlToken: testToken},
		Player: config.PlayerConfig{
			FrameIntervalMs:   16,
			DriftThresholdSec: 0.5,
			SeekStepSec:       10,
			NotifyIntervalMs:  1000,
			InitialVolume:     1,
		},
	}
	m, err := session.NewManager(cfg, session.Components{
		Resource: func() (engine.Resource, error) { return audio.NewSimulated(time.Minute), nil },
		Catalog:  stubCatalog{},
		Frames:   frame.New(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())

	path, handler := NewPlayerServiceHandler(NewPlayerService(m, cfg))
	assert.Equal(t, "/cratebox.v1.PlayerService/", path)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = m.Stop()
	})
	return srv, m
}

func call(t *testing.T, srv *httptest.Server, procedure string, fields map[string]any, token string) (*structpb.Struct, error) {
	t.Helper()

	msg, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	client := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+procedure)
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set(ControlTokenHeader, token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func callEmpty(t *testing.T, srv *httptest.Server, procedure, token string) (*structpb.Struct, error) {
	t.Helper()

	client := connect.NewClient[emptypb.Empty, structpb.Struct](srv.Client(), srv.URL+procedure)
	req := connect.NewRequest(&emptypb.Empty{})
	if token != "" {
		req.Header().Set(ControlTokenHeader, token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func TestPlayerService_GetState(t *testing.T) {
	srv, m := newTestServer(t)

	msg, err := callEmpty(t, srv, GetStateProcedure, "")
	require.NoError(t, err)

	fields := msg.GetFields()
	assert.Equal(t, float64(-1), fields["index"].GetNumberValue())
	assert.Equal(t, "off", fields["repeat"].GetStringValue())
	assert.Equal(t, m.ID(), fields["sessionId"].GetStringValue())
	assert.True(t, fields["running"].GetBoolValue())
	assert.Equal(t, "0:00", fields["elapsed"].GetStringValue())
}

func TestPlayerService_ControlAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name     string
		token    string
		fields   map[string]any
		wantCode connect.Code
	}{
		{
			name:     "missing token",
			fields:   map[string]any{"action": "pause"},
			wantCode: connect.CodeUnauthenticated,
		},
		{
			name:     "wrong token",
			token:    "nope",
			fields:   map[string]any{"action": "pause"},
			wantCode: connect.CodeUnauthenticated,
		},
		{
			name:     "unknown action",
			token:    testToken,
			fields:   map[string]any{"action": "rewind"},
			wantCode: connect.CodeInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, srv, ControlProcedure, tt.fields, tt.token)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))
		})
	}
}

func TestPlayerService_Control(t *testing.T) {
	srv, m := newTestServer(t)

	msg, err := call(t, srv, ControlProcedure, map[string]any{"action": "volume", "value": 0.25}, testToken)
	require.NoError(t, err)
	assert.Equal(t, 0.25, msg.GetFields()["volume"].GetNumberValue())

	_, err = call(t, srv, ControlProcedure, map[string]any{"action": "shuffle", "on": true}, testToken)
	require.NoError(t, err)
	assert.True(t, m.GetStatus().State.Shuffle)
}

func TestPlayerService_SearchPreviewCrate(t *testing.T) {
	srv, m := newTestServer(t)

	msg, err := call(t, srv, SearchProcedure, map[string]any{"query": "techno", "limit": 10}, "")
	require.NoError(t, err)
	tracks := msg.GetFields()["tracks"].GetListValue().GetValues()
	require.Len(t, tracks, 2)
	assert.Equal(t, "Warehouse", tracks[0].GetStructValue().GetFields()["title"].GetStringValue())
	assert.Equal(t, "Catalog", msg.GetFields()["provider"].GetStringValue())

	_, err = call(t, srv, PreviewProcedure, map[string]any{"index": 0}, "")
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	_, err = call(t, srv, PreviewProcedure, map[string]any{}, testToken)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = call(t, srv, PreviewProcedure, map[string]any{"index": 9}, testToken)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	msg, err = call(t, srv, PreviewProcedure, map[string]any{"index": 0}, testToken)
	require.NoError(t, err)
	assert.Equal(t, float64(0), msg.GetFields()["index"].GetNumberValue())
	assert.True(t, m.GetStatus().State.Playing)

	msg, err = call(t, srv, BuyLinkProcedure, map[string]any{"index": 0}, "")
	require.NoError(t, err)
	assert.Equal(t, "https://buy.example.com/7", msg.GetFields()["url"].GetStringValue())

	_, err = call(t, srv, BuyLinkProcedure, map[string]any{"index": 1}, "")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	msg, err = call(t, srv, AddToCrateProcedure, map[string]any{"index": 0}, testToken)
	require.NoError(t, err)
	assert.Equal(t, "Warehouse", msg.GetFields()["title"].GetStringValue())

	msg, err = callEmpty(t, srv, ListCrateProcedure, "")
	require.NoError(t, err)
	assert.Len(t, msg.GetFields()["rows"].GetListValue().GetValues(), 1)

	msg, err = callEmpty(t, srv, ExportCrateProcedure, "")
	require.NoError(t, err)
	assert.Equal(t,
		"Title,Artist,BPM,Key,URL\n"+`"Warehouse","DJ K","128","5A","https://buy.example.com/7"`,
		msg.GetFields()["csv"].GetStringValue())

	msg, err = call(t, srv, RemoveFromCrateProcedure, map[string]any{"index": 0}, testToken)
	require.NoError(t, err)
	assert.Empty(t, msg.GetFields()["rows"].GetListValue().GetValues())

	_, err = callEmpty(t, srv, ClearCrateProcedure, testToken)
	require.NoError(t, err)
}

func TestPlayerService_Subscribe(t *testing.T) {
	srv, m := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := connect.NewClient[emptypb.Empty, structpb.Struct](srv.Client(), srv.URL+SubscribeProcedure)
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive())
	initial := stream.Msg().GetFields()
	assert.Equal(t, "queue", initial["change"].GetStringValue())
	assert.Equal(t, float64(-1), initial["state"].GetStructValue().GetFields()["index"].GetNumberValue())

	// The subscription is registered before the initial state is sent.
	m.Store().SetMuted(true)

	require.True(t, stream.Receive())
	next := stream.Msg().GetFields()
	assert.Equal(t, "volume", next["change"].GetStringValue())
	assert.True(t, next["state"].GetStructValue().GetFields()["muted"].GetBoolValue())
	assert.Greater(t, next["sequenceNo"].GetNumberValue(), initial["sequenceNo"].GetNumberValue())
}
