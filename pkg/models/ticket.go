package models

import (
	"encoding/json"
	"strconv"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/querystatus"
)

// TicketKind selects what a Flight ticket streams.
type TicketKind string

const (
	TicketQueries TicketKind = "queries"
	TicketQuery   TicketKind = "query"
	TicketAPIKeys TicketKind = "api_keys"
)

// Ticket is the JSON payload of a Flight ticket or descriptor command.
// List filters are inlined next to the kind.
type Ticket struct {
	Kind TicketKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	ListQueriesOptions
}

// QueriesTicket returns a ticket listing queries.
func QueriesTicket(opts ListQueriesOptions) Ticket {
	return Ticket{Kind: TicketQueries, ListQueriesOptions: opts}
}

// QueryTicket returns a ticket for a single query.
func QueryTicket(id string) Ticket {
	return Ticket{Kind: TicketQuery, ID: id}
}

// APIKeysTicket returns a ticket listing API keys.
func APIKeysTicket() Ticket {
	return Ticket{Kind: TicketAPIKeys}
}

// Encode returns the wire form of t.
func (t Ticket) Encode() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode ticket")
	}
	return b, nil
}

// DecodeTicket parses and checks a ticket.
func DecodeTicket(b []byte) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(b, &t); err != nil {
		return Ticket{}, errors.ErrInvalidTicket.WithCause(err)
	}
	switch t.Kind {
	case TicketQueries, TicketAPIKeys:
	case TicketQuery:
		if t.ID == "" {
			return Ticket{}, errors.ErrInvalidTicket.WithDetail("reason", "query ticket without id")
		}
	default:
		return Ticket{}, errors.ErrInvalidTicket.WithDetail("kind", string(t.Kind))
	}
	return t, nil
}

// CacheParams returns the fields of t that identify its result.
func (t Ticket) CacheParams() map[string]string {
	opts := t.ListQueriesOptions.Normalize()
	return map[string]string{
		"id":             t.ID,
		"status":         string(opts.Status),
		"display_status": string(opts.DisplayStatus),
		"username":       opts.Username,
		"limit":          strconv.Itoa(opts.Limit),
		"offset":         strconv.Itoa(opts.Offset),
	}
}

// Flight action types.
const (
	ActionGenerateAPIKey = "GenerateAPIKey"
	ActionRevokeAPIKey   = "RevokeAPIKey"
	ActionVerifyQuery    = "VerifyQuery"
	ActionMarkSQLError   = "MarkSQLError"
	ActionClassifyStatus = "ClassifyStatus"
	ActionStatusCensus   = "StatusCensus"
)

// IDRequest is the body of actions that address one record.
type IDRequest struct {
	ID string `json:"id"`
}

// MarkSQLErrorRequest is the body of the MarkSQLError action.
type MarkSQLErrorRequest struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ClassifyStatusRequest is the body of the ClassifyStatus action.
type ClassifyStatusRequest struct {
	Status          querystatus.RawStatus `json:"status"`
	EvaluationScore float64               `json:"evaluation_score"`
}
