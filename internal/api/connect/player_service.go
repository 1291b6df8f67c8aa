package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/cratebox/internal/app/notification"
	"github.com/osa030/cratebox/internal/app/session"
	"github.com/osa030/cratebox/internal/infra/config"
)

// PlayerServiceName is the fully-qualified name of the PlayerService.
const PlayerServiceName = "cratebox.v1.PlayerService"

// Procedure paths of the PlayerService.
const (
	GetStateProcedure        = "/" + PlayerServiceName + "/GetState"
	ControlProcedure         = "/" + PlayerServiceName + "/Control"
	SearchProcedure          = "/" + PlayerServiceName + "/Search"
	PreviewProcedure         = "/" + PlayerServiceName + "/Preview"
	AddToCrateProcedure      = "/" + PlayerServiceName + "/AddToCrate"
	RemoveFromCrateProcedure = "/" + PlayerServiceName + "/RemoveFromCrate"
	ClearCrateProcedure      = "/" + PlayerServiceName + "/ClearCrate"
	ListCrateProcedure       = "/" + PlayerServiceName + "/ListCrate"
	ExportCrateProcedure     = "/" + PlayerServiceName + "/ExportCrate"
	BuyLinkProcedure         = "/" + PlayerServiceName + "/BuyLink"
	SubscribeProcedure       = "/" + PlayerServiceName + "/Subscribe"
)

// PlayerService implements the PlayerService RPC.
// Messages are google.protobuf.Struct so clients can speak Connect JSON without generated stubs.
type PlayerService struct {
	session *session.Manager
	config  *config.Config
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(session *session.Manager, cfg *config.Config) *PlayerService {
	return &PlayerService{
		session: session,
		config:  cfg,
	}
}

// NewPlayerServiceHandler builds the HTTP handler serving every PlayerService procedure.
// State-changing procedures require the control token.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	guarded := append([]connect.HandlerOption{
		connect.WithInterceptors(NewControlAuthInterceptor(svc.config)),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, svc.GetState, opts...))
	mux.Handle(SearchProcedure, connect.NewUnaryHandler(SearchProcedure, svc.Search, opts...))
	mux.Handle(ListCrateProcedure, connect.NewUnaryHandler(ListCrateProcedure, svc.ListCrate, opts...))
	mux.Handle(ExportCrateProcedure, connect.NewUnaryHandler(ExportCrateProcedure, svc.ExportCrate, opts...))
	mux.Handle(BuyLinkProcedure, connect.NewUnaryHandler(BuyLinkProcedure, svc.BuyLink, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, svc.Subscribe, opts...))

	mux.Handle(ControlProcedure, connect.NewUnaryHandler(ControlProcedure, svc.Control, guarded...))
	mux.Handle(PreviewProcedure, connect.NewUnaryHandler(PreviewProcedure, svc.Preview, guarded...))
	mux.Handle(AddToCrateProcedure, connect.NewUnaryHandler(AddToCrateProcedure, svc.AddToCrate, guarded...))
	mux.Handle(RemoveFromCrateProcedure, connect.NewUnaryHandler(RemoveFromCrateProcedure, svc.RemoveFromCrate, guarded...))
	mux.Handle(ClearCrateProcedure, connect.NewUnaryHandler(ClearCrateProcedure, svc.ClearCrate, guarded...))

	return "/" + PlayerServiceName + "/", mux
}

// GetState returns the current player status.
func (s *PlayerService) GetState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return structResponse(StatusMap(s.session.GetStatus()))
}

// Control applies a transport or mode action.
// Request fields: action, index (play/remove), value (seek/volume), on (shuffle).
func (s *PlayerService) Control(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	cmd := session.Command{
		Action: session.Action(stringField(req.Msg, "action")),
		Index:  intField(req.Msg, "index"),
		Value:  numberField(req.Msg, "value"),
		On:     boolField(req.Msg, "on"),
	}
	if err := s.session.Control(cmd); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return structResponse(StatusMap(s.session.GetStatus()))
}

// Search queries the catalog. Request fields: query, limit.
func (s *PlayerService) Search(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	limit := 0
	if l := intField(req.Msg, "limit"); l != nil {
		limit = *l
	}

	res, err := s.session.Search(ctx, stringField(req.Msg, "query"), limit)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	return structResponse(map[string]any{
		"provider": res.DisplayName,
		"tracks":   items(res.Items),
	})
}

// Preview queues the last search results at index.
func (s *PlayerService) Preview(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	idx, err := requireIndex(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := s.session.PreviewResults(idx); err != nil {
		return nil, errorFor(err)
	}
	return structResponse(StatusMap(s.session.GetStatus()))
}

// AddToCrate saves the queue item at index.
func (s *PlayerService) AddToCrate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	idx, err := requireIndex(req.Msg)
	if err != nil {
		return nil, err
	}
	row, err := s.session.AddToCrate(ctx, idx)
	if err != nil {
		return nil, errorFor(err)
	}
	return structResponse(RowMap(row))
}

// RemoveFromCrate deletes the crate row at index.
func (s *PlayerService) RemoveFromCrate(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	idx, err := requireIndex(req.Msg)
	if err != nil {
		return nil, err
	}
	if err := s.session.RemoveFromCrate(ctx, idx); err != nil {
		return nil, errorFor(err)
	}
	return s.listCrate(ctx)
}

// ClearCrate empties the crate.
func (s *PlayerService) ClearCrate(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	if err := s.session.ClearCrate(ctx); err != nil {
		return nil, errorFor(err)
	}
	return s.listCrate(ctx)
}

// ListCrate returns the crate rows.
func (s *PlayerService) ListCrate(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.listCrate(ctx)
}

// ExportCrate returns the crate as CSV.
func (s *PlayerService) ExportCrate(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	csv, err := s.session.ExportCrate(ctx)
	if err != nil {
		return nil, errorFor(err)
	}
	return structResponse(map[string]any{"csv": csv})
}

// BuyLink returns the first link of the queue item at index.
func (s *PlayerService) BuyLink(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	idx, err := requireIndex(req.Msg)
	if err != nil {
		return nil, err
	}
	l, err := s.session.BuyLink(idx)
	if err != nil {
		return nil, errorFor(err)
	}
	return structResponse(map[string]any{
		"source": l.Source,
		"url":    l.URL,
	})
}

// Subscribe streams state notifications, starting with the current state.
func (s *PlayerService) Subscribe(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID, initial := s.session.Subscribe(adapter)
	defer s.session.Unsubscribe(subscriptionID)

	if err := adapter.Send(initial); err != nil {
		return err
	}

	// Wait for context cancellation or session end
	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	msg, err := structpb.NewStruct(NotificationMap(n))
	if err != nil {
		return errors.Wrap(err, "failed to encode notification")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(msg)
}

func structResponse(m map[string]any) (*connect.Response[structpb.Struct], error) {
	msg, err := structpb.NewStruct(m)
	if err != nil {
		zlog.Error().Msgf("failed to encode response: %v", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func (s *PlayerService) listCrate(ctx context.Context) (*connect.Response[structpb.Struct], error) {
	rs, err := s.session.ListCrate(ctx)
	if err != nil {
		return nil, errorFor(err)
	}
	return structResponse(map[string]any{"rows": rows(rs)})
}

func requireIndex(msg *structpb.Struct) (int, error) {
	idx := intField(msg, "index")
	if idx == nil {
		return 0, connect.NewError(connect.CodeInvalidArgument, errors.New("index is required"))
	}
	return *idx, nil
}

func errorFor(err error) error {
	switch {
	case errors.Is(err, session.ErrIndexOutOfRange), errors.Is(err, session.ErrNoLink):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, session.ErrNoResults):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
