// Package server wires the console handlers to Arrow Flight over gRPC.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dataherald/console/pkg/cache"
	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/handlers"
	"github.com/dataherald/console/pkg/infrastructure/metrics"
	"github.com/dataherald/console/pkg/models"
)

// actionTypes is what ListActions advertises.
var actionTypes = []*flight.ActionType{
	{Type: models.ActionGenerateAPIKey, Description: `Create an API key. Body {"name": "..."}; result {"api_key": "...", "id": "...", "name": "..."}.`},
	{Type: models.ActionRevokeAPIKey, Description: `Delete an API key. Body {"id": "..."}.`},
	{Type: models.ActionVerifyQuery, Description: `Mark a query as verified. Body {"id": "..."}; result is the updated query view.`},
	{Type: models.ActionMarkSQLError, Description: `Record a SQL failure. Body {"id": "...", "message": "..."}; result is the updated query view.`},
	{Type: models.ActionClassifyStatus, Description: `Classify a status. Body {"status": "...", "evaluation_score": n}; result {"display_status", "display_color", "label"}.`},
	{Type: models.ActionStatusCensus, Description: "Count stored queries per display status."},
}

// FlightServer serves query views and API keys over Arrow Flight.
type FlightServer struct {
	flight.BaseFlightServer

	queryHandler  handlers.QueryHandler
	apiKeyHandler handlers.APIKeyHandler
	allocator     memory.Allocator
	logger        zerolog.Logger
	metrics       metrics.Collector

	cache      cache.Cache
	keyGen     cache.KeyGenerator
	cacheEpoch atomic.Uint64

	mu      sync.RWMutex
	closing bool
}

// New creates a Flight server. A nil cache disables list caching.
func New(
	qh handlers.QueryHandler,
	ah handlers.APIKeyHandler,
	alloc memory.Allocator,
	c cache.Cache,
	logger zerolog.Logger,
	m metrics.Collector,
) *FlightServer {
	if m == nil {
		m = metrics.NewNoOpCollector()
	}
	return &FlightServer{
		queryHandler:  qh,
		apiKeyHandler: ah,
		allocator:     alloc,
		cache:         c,
		keyGen:        &cache.DefaultKeyGenerator{},
		logger:        logger.With().Str("component", "server").Logger(),
		metrics:       m,
	}
}

// Register registers the Flight service with a gRPC server.
func (s *FlightServer) Register(grpcServer *grpc.Server) {
	flight.RegisterFlightServiceServer(grpcServer, s)
}

// Close stops accepting requests and releases cached records.
func (s *FlightServer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.logger.Info().Msg("Closing Flight server")
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing cache")
		}
	}
	return nil
}

func (s *FlightServer) isClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// ─── Flight info ──────────────────────────────────────────────

func schemaFor(kind models.TicketKind) *arrow.Schema {
	switch kind {
	case models.TicketQuery:
		return models.GetQueryDetailSchema()
	case models.TicketAPIKeys:
		return models.GetAPIKeySchema()
	default:
		return models.GetQueryViewSchema()
	}
}

func (s *FlightServer) descriptorTicket(desc *flight.FlightDescriptor) (models.Ticket, error) {
	if desc == nil || desc.Type != flight.DescriptorCMD {
		return models.Ticket{}, status.Error(codes.InvalidArgument, "descriptor must be a command")
	}
	t, err := models.DecodeTicket(desc.Cmd)
	if err != nil {
		return models.Ticket{}, errors.ToStatus(err)
	}
	return t, nil
}

// infoFor builds a FlightInfo with a single endpoint whose ticket is the
// descriptor command.
func (s *FlightServer) infoFor(desc *flight.FlightDescriptor, schema *arrow.Schema) *flight.FlightInfo {
	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(schema, s.allocator),
		FlightDescriptor: desc,
		Endpoint: []*flight.FlightEndpoint{{
			Ticket: &flight.Ticket{Ticket: desc.Cmd},
		}},
		TotalRecords: -1,
		TotalBytes:   -1,
	}
}

// GetFlightInfo returns the schema and endpoint of a ticket command.
func (s *FlightServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	t, err := s.descriptorTicket(desc)
	if err != nil {
		return nil, err
	}
	return s.infoFor(desc, schemaFor(t.Kind)), nil
}

// GetSchema returns the schema of a ticket command.
func (s *FlightServer) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	t, err := s.descriptorTicket(desc)
	if err != nil {
		return nil, err
	}
	return &flight.SchemaResult{Schema: flight.SerializeSchema(schemaFor(t.Kind), s.allocator)}, nil
}

// ListFlights lists the streams a client can always request.
func (s *FlightServer) ListFlights(criteria *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	for _, t := range []models.Ticket{models.QueriesTicket(models.ListQueriesOptions{}), models.APIKeysTicket()} {
		cmd, err := t.Encode()
		if err != nil {
			return errors.ToStatus(err)
		}
		desc := &flight.FlightDescriptor{Type: flight.DescriptorCMD, Cmd: cmd}
		if err := stream.Send(s.infoFor(desc, schemaFor(t.Kind))); err != nil {
			return err
		}
	}
	return nil
}

// ─── DoGet ────────────────────────────────────────────────────

// DoGet streams the record batches a ticket selects.
func (s *FlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	if s.isClosing() {
		return status.Error(codes.Unavailable, "server is shutting down")
	}
	ctx := stream.Context()

	t, err := models.DecodeTicket(tkt.GetTicket())
	if err != nil {
		s.metrics.IncrementCounter(metrics.FlightErrors, "method", "DoGet")
		return errors.ToStatus(err)
	}
	s.metrics.IncrementCounter(metrics.FlightStreams, "kind", string(t.Kind))

	schema, chunks, err := s.open(ctx, t)
	if err != nil {
		s.metrics.IncrementCounter(metrics.FlightErrors, "method", "DoGet")
		s.logger.Debug().Err(err).Str("kind", string(t.Kind)).Msg("DoGet failed")
		return errors.ToStatus(err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(schema), ipc.WithAllocator(s.allocator))
	defer w.Close()

	var rows int64
	for chunk := range chunks {
		if chunk.Err != nil {
			drain(chunks)
			return errors.ToStatus(chunk.Err)
		}
		if chunk.Data == nil {
			continue
		}
		rows += chunk.Data.NumRows()
		err := w.Write(chunk.Data)
		chunk.Data.Release()
		if err != nil {
			drain(chunks)
			return err
		}
	}

	s.logger.Debug().Str("kind", string(t.Kind)).Int64("rows", rows).Msg("DoGet completed")
	return nil
}

func (s *FlightServer) open(ctx context.Context, t models.Ticket) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	switch t.Kind {
	case models.TicketQueries:
		return s.listQueries(ctx, t)
	case models.TicketQuery:
		return s.queryHandler.GetQuery(ctx, t.ID)
	case models.TicketAPIKeys:
		return s.apiKeyHandler.ListAPIKeys(ctx)
	default:
		return nil, nil, errors.ErrInvalidTicket.WithDetail("kind", string(t.Kind))
	}
}

// listQueries serves a query list, with a fast path to the cache.
func (s *FlightServer) listQueries(ctx context.Context, t models.Ticket) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	if s.cache == nil {
		return s.queryHandler.ListQueries(ctx, t.ListQueriesOptions)
	}

	key := s.keyGen.GenerateKey(string(t.Kind), t.CacheParams())

	// ── cache hit ───────────────────────────────────────────────
	if rec, _ := s.cache.Get(ctx, key); rec != nil {
		s.metrics.IncrementCounter(metrics.CacheHits)
		ch := make(chan flight.StreamChunk, 1)
		ch <- flight.StreamChunk{Data: rec}
		close(ch)
		return rec.Schema(), ch, nil
	}
	s.metrics.IncrementCounter(metrics.CacheMisses)

	// ── cache miss: ask handler ─────────────────────────────────
	epoch := s.cacheEpoch.Load()
	schema, upstream, err := s.queryHandler.ListQueries(ctx, t.ListQueriesOptions)
	if err != nil {
		return nil, nil, err
	}

	down := make(chan flight.StreamChunk, 1)
	go func() {
		defer close(down)
		for c := range upstream {
			if c.Data != nil {
				s.store(ctx, key, epoch, c.Data)
			}
			down <- c
		}
	}()
	return schema, down, nil
}

// store caches rec unless a mutation happened since the listing started at
// epoch. A mutation racing with Put is caught by the second check, which
// drops the entry again.
func (s *FlightServer) store(ctx context.Context, key string, epoch uint64, rec arrow.Record) {
	if s.cacheEpoch.Load() != epoch {
		return
	}
	if err := s.cache.Put(ctx, key, rec); err != nil {
		return
	}
	if s.cacheEpoch.Load() != epoch {
		_ = s.cache.Delete(ctx, key)
	}
}

// invalidate drops every cached list after a mutation.
func (s *FlightServer) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	s.cacheEpoch.Add(1)
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear query cache")
	}
}

func drain(chunks <-chan flight.StreamChunk) {
	for c := range chunks {
		if c.Data != nil {
			c.Data.Release()
		}
	}
}

// ─── Actions ──────────────────────────────────────────────────

// ListActions advertises the supported actions.
func (s *FlightServer) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	for _, a := range actionTypes {
		if err := stream.Send(a); err != nil {
			return err
		}
	}
	return nil
}

// DoAction runs one action and sends its JSON result.
func (s *FlightServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	if s.isClosing() {
		return status.Error(codes.Unavailable, "server is shutting down")
	}
	ctx := stream.Context()
	s.metrics.IncrementCounter(metrics.FlightActions, "action", action.GetType())

	result, err := s.runAction(ctx, action)
	if err != nil {
		s.metrics.IncrementCounter(metrics.FlightErrors, "method", "DoAction")
		s.logger.Debug().Err(err).Str("action", action.GetType()).Msg("Action failed")
		return errors.ToStatus(err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to encode %s result: %v", action.GetType(), err)
	}
	return stream.Send(&flight.Result{Body: body})
}

func (s *FlightServer) runAction(ctx context.Context, action *flight.Action) (interface{}, error) {
	switch action.GetType() {
	case models.ActionGenerateAPIKey:
		var req models.GenerateAPIKeyRequest
		if err := decodeBody(action, &req); err != nil {
			return nil, err
		}
		return s.apiKeyHandler.Generate(ctx, req.Name)

	case models.ActionRevokeAPIKey:
		var req models.IDRequest
		if err := decodeBody(action, &req); err != nil {
			return nil, err
		}
		if err := s.apiKeyHandler.Revoke(ctx, req.ID); err != nil {
			return nil, err
		}
		return req, nil

	case models.ActionVerifyQuery:
		var req models.IDRequest
		if err := decodeBody(action, &req); err != nil {
			return nil, err
		}
		view, err := s.queryHandler.VerifyQuery(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx)
		return view, nil

	case models.ActionMarkSQLError:
		var req models.MarkSQLErrorRequest
		if err := decodeBody(action, &req); err != nil {
			return nil, err
		}
		view, err := s.queryHandler.MarkSQLError(ctx, req.ID, req.Message)
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx)
		return view, nil

	case models.ActionClassifyStatus:
		var req models.ClassifyStatusRequest
		if err := decodeBody(action, &req); err != nil {
			return nil, err
		}
		return s.queryHandler.ClassifyStatus(req.Status, req.EvaluationScore)

	case models.ActionStatusCensus:
		return s.queryHandler.StatusCensus(ctx)

	default:
		return nil, errors.Newf(errors.CodeInvalidRequest, "unknown action %q", action.GetType())
	}
}

func decodeBody(action *flight.Action, v interface{}) error {
	if err := json.Unmarshal(action.GetBody(), v); err != nil {
		return errors.Wrapf(err, errors.CodeInvalidRequest, "invalid %s body", action.GetType())
	}
	return nil
}
