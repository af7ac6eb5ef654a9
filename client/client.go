// Package client is a Flight client for the console server.
package client

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

// Client talks to a console server over Arrow Flight.
type Client struct {
	fc      flight.Client
	logger  zerolog.Logger
	retries uint64
	initial time.Duration
}

type options struct {
	token      string
	creds      credentials.TransportCredentials
	logger     zerolog.Logger
	retries    uint64
	initial    time.Duration
	middleware []flight.ClientMiddleware
}

// Option configures a Client.
type Option func(*options)

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(o *options) { o.token = token }
}

// WithTLS dials with the given transport credentials instead of plaintext.
func WithTLS(creds credentials.TransportCredentials) Option {
	return func(o *options) { o.creds = creds }
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetry sets how often an idempotent read is retried after the server
// reports it is unavailable, and the first wait between attempts.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(o *options) {
		o.retries = maxRetries
		o.initial = initial
	}
}

// WithMiddleware adds client interceptors.
func WithMiddleware(mw ...flight.ClientMiddleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw...) }
}

func defaultOptions() *options {
	return &options{
		logger:  zerolog.Nop(),
		retries: 3,
		initial: 100 * time.Millisecond,
	}
}

// BearerMiddleware attaches an "authorization: Bearer <token>" header to
// every outgoing call.
func BearerMiddleware(token string) flight.ClientMiddleware {
	attach := func(ctx context.Context) context.Context {
		return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return flight.ClientMiddleware{
		Stream: func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			return streamer(attach(ctx), desc, cc, method, opts...)
		},
		Unary: func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			return invoker(attach(ctx), method, req, reply, cc, opts...)
		},
	}
}

// New dials addr.
func New(addr string, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	mw := o.middleware
	if o.token != "" {
		mw = append(mw, BearerMiddleware(o.token))
	}
	creds := o.creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}

	fc, err := flight.NewClientWithMiddleware(addr, nil, mw, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeConnectionFailed, "failed to connect to %s", addr)
	}
	return newClient(fc, o), nil
}

// NewFromConn wraps an established connection. Token and TLS options are
// ignored; configure them on conn.
func NewFromConn(conn grpc.ClientConnInterface, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return newClient(flight.NewClientFromConn(conn, nil), o)
}

func newClient(fc flight.Client, o *options) *Client {
	return &Client{
		fc:      fc,
		logger:  o.logger,
		retries: o.retries,
		initial: o.initial,
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.fc.Close()
}

// ListQueries returns one page of classified queries.
func (c *Client) ListQueries(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryView, error) {
	return fetch(ctx, c, models.QueriesTicket(opts), models.QueryViewsFromRecord)
}

// GetQuery returns one query with its presentation.
func (c *Client) GetQuery(ctx context.Context, id string) (*models.QueryDetail, error) {
	details, err := fetch(ctx, c, models.QueryTicket(id), func(rec arrow.Record) ([]*models.QueryDetail, error) {
		d, err := models.QueryDetailFromRecord(rec)
		if err != nil {
			return nil, err
		}
		return []*models.QueryDetail{d}, nil
	})
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, errors.ErrQueryNotFound.WithDetail("id", id)
	}
	return details[0], nil
}

// ListAPIKeys returns the metadata of every API key.
func (c *Client) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return fetch(ctx, c, models.APIKeysTicket(), models.APIKeysFromRecord)
}

// GenerateAPIKey asks the server for a new key. It is never retried: a
// request that timed out may still have created a key.
func (c *Client) GenerateAPIKey(ctx context.Context, name string) (*models.GeneratedAPIKey, error) {
	var key models.GeneratedAPIKey
	if err := c.action(ctx, models.ActionGenerateAPIKey, models.GenerateAPIKeyRequest{Name: name}, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// RevokeAPIKey deletes a key.
func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.action(ctx, models.ActionRevokeAPIKey, models.IDRequest{ID: id}, nil)
}

// VerifyQuery marks a query as verified.
func (c *Client) VerifyQuery(ctx context.Context, id string) (*models.QueryView, error) {
	var view models.QueryView
	if err := c.action(ctx, models.ActionVerifyQuery, models.IDRequest{ID: id}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// MarkSQLError records that a query's SQL failed.
func (c *Client) MarkSQLError(ctx context.Context, id, message string) (*models.QueryView, error) {
	var view models.QueryView
	if err := c.action(ctx, models.ActionMarkSQLError, models.MarkSQLErrorRequest{ID: id, Message: message}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ClassifyStatus asks the server to classify a raw status and score.
func (c *Client) ClassifyStatus(ctx context.Context, raw querystatus.RawStatus, score float64) (querystatus.Presentation, error) {
	var p querystatus.Presentation
	err := c.action(ctx, models.ActionClassifyStatus, models.ClassifyStatusRequest{Status: raw, EvaluationScore: score}, &p)
	return p, err
}

// StatusCensus counts stored queries per display status. Like the reads, it
// is retried while the server reports UNAVAILABLE.
func (c *Client) StatusCensus(ctx context.Context) (*models.StatusCensus, error) {
	var census models.StatusCensus
	op := func() error {
		census = models.StatusCensus{}
		return retryable(c.action(ctx, models.ActionStatusCensus, nil, &census))
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("action", models.ActionStatusCensus).Dur("wait", wait).Msg("Server unavailable, retrying")
	}
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return nil, convert(err)
	}
	return &census, nil
}

// retryable marks every error but UNAVAILABLE as permanent.
func retryable(err error) error {
	if err == nil || isUnavailable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isUnavailable(err error) bool {
	if status.Code(err) == codes.Unavailable {
		return true
	}
	return errors.GRPCCode(errors.GetCode(err)) == codes.Unavailable
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	return backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)
}

// fetch streams the records a ticket selects and decodes each one. The
// whole read is retried while the server reports UNAVAILABLE.
func fetch[T any](ctx context.Context, c *Client, t models.Ticket, decode func(arrow.Record) ([]T, error)) ([]T, error) {
	tkt, err := t.Encode()
	if err != nil {
		return nil, err
	}

	var out []T
	op := func() error {
		out = nil
		err := c.readStream(ctx, tkt, func(rec arrow.Record) error {
			items, err := decode(rec)
			if err != nil {
				return err
			}
			out = append(out, items...)
			return nil
		})
		return retryable(err)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("kind", string(t.Kind)).Dur("wait", wait).Msg("Server unavailable, retrying")
	}

	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return nil, convert(err)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

func (c *Client) readStream(ctx context.Context, tkt []byte, fn func(arrow.Record) error) error {
	stream, err := c.fc.DoGet(ctx, &flight.Ticket{Ticket: tkt})
	if err != nil {
		return err
	}
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	for rdr.Next() {
		if err := fn(rdr.Record()); err != nil {
			return err
		}
	}
	return rdr.Err()
}

// action runs one action, decoding its single result into out when out is
// not nil. Actions with no result may close the stream without sending.
func (c *Client) action(ctx context.Context, typ string, body, out interface{}) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return errors.Wrapf(err, errors.CodeInvalidRequest, "encode %s body", typ)
		}
	}

	stream, err := c.fc.DoAction(ctx, &flight.Action{Type: typ, Body: raw})
	if err != nil {
		return convert(err)
	}

	res, err := stream.Recv()
	if err == io.EOF && out == nil {
		return nil
	}
	if err != nil {
		return convert(err)
	}
	if out != nil {
		if err := json.Unmarshal(res.GetBody(), out); err != nil {
			return errors.Wrapf(err, errors.CodeInternal, "decode %s result", typ)
		}
	}

	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				return nil
			}
			return convert(err)
		}
	}
}

// convert turns a transport error into a ConsoleError.
func convert(err error) error {
	if err == nil {
		return nil
	}
	var ce *errors.ConsoleError
	if errors.As(err, &ce) {
		return err
	}
	return errors.FromStatus(err)
}
