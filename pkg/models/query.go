// Package models provides data structures used throughout the console service.
package models

import (
	"time"

	"github.com/dataherald/console/pkg/querystatus"
)

// Default and maximum page sizes for query listings.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// QuerySQLResult is the tabular result of running a query's SQL.
type QuerySQLResult struct {
	Columns []string                 `json:"columns" yaml:"columns"`
	Rows    []map[string]interface{} `json:"rows" yaml:"rows"`
}

// Query is a natural-language question together with the SQL generated for
// it and the backend's verdict on that SQL.
type Query struct {
	ID              string                `json:"id" yaml:"id"`
	Username        string                `json:"username" yaml:"username"`
	Question        string                `json:"question" yaml:"question"`
	QuestionDate    time.Time             `json:"question_date" yaml:"question_date"`
	SQLQuery        string                `json:"sql_query" yaml:"sql_query"`
	SQLQueryResult  *QuerySQLResult       `json:"sql_query_result" yaml:"sql_query_result"`
	SQLErrorMessage string                `json:"sql_error_message,omitempty" yaml:"sql_error_message"`
	AIProcess       []string              `json:"ai_process" yaml:"ai_process"`
	NLResponse      string                `json:"nl_response" yaml:"nl_response"`
	Status          querystatus.RawStatus `json:"status" yaml:"status"`
	EvaluationScore float64               `json:"evaluation_score" yaml:"evaluation_score"`
	LastUpdated     time.Time             `json:"last_updated" yaml:"last_updated"`
}

// ListItem projects q onto the fields shown in the query list.
func (q *Query) ListItem() QueryListItem {
	return QueryListItem{
		ID:              q.ID,
		Username:        q.Username,
		Question:        q.Question,
		QuestionDate:    q.QuestionDate,
		NLResponse:      q.NLResponse,
		Status:          q.Status,
		EvaluationScore: q.EvaluationScore,
	}
}

// QueryListItem is one row of the query list.
type QueryListItem struct {
	ID              string                `json:"id"`
	Username        string                `json:"username"`
	Question        string                `json:"question"`
	QuestionDate    time.Time             `json:"question_date"`
	NLResponse      string                `json:"nl_response"`
	Status          querystatus.RawStatus `json:"status"`
	EvaluationScore float64               `json:"evaluation_score"`
}

// QueryView is a list item with its presentation attached. The display
// fields are empty when the item's status cannot be classified.
type QueryView struct {
	QueryListItem
	DisplayStatus querystatus.DisplayStatus `json:"display_status,omitempty"`
	DisplayColor  querystatus.DisplayColor  `json:"display_color,omitempty"`
	Label         string                    `json:"label"`
}

// NewQueryView classifies item and attaches the result.
func NewQueryView(item QueryListItem) QueryView {
	view := QueryView{QueryListItem: item}
	if p, ok := querystatus.Describe(item.Status, item.EvaluationScore); ok {
		view.DisplayStatus = p.Status
		view.DisplayColor = p.Color
		view.Label = p.Label
	}
	return view
}

// Classified reports whether the view carries a display status.
func (v QueryView) Classified() bool {
	return v.DisplayStatus != ""
}

// QueryDetail is a full query with its presentation attached.
type QueryDetail struct {
	Query
	DisplayStatus querystatus.DisplayStatus `json:"display_status,omitempty"`
	DisplayColor  querystatus.DisplayColor  `json:"display_color,omitempty"`
	Label         string                    `json:"label"`
}

// NewQueryDetail classifies q and attaches the result.
func NewQueryDetail(q *Query) *QueryDetail {
	d := &QueryDetail{Query: *q}
	if p, ok := querystatus.Describe(q.Status, q.EvaluationScore); ok {
		d.DisplayStatus = p.Status
		d.DisplayColor = p.Color
		d.Label = p.Label
	}
	return d
}

// View returns the list representation of d.
func (d *QueryDetail) View() QueryView {
	return QueryView{
		QueryListItem: d.Query.ListItem(),
		DisplayStatus: d.DisplayStatus,
		DisplayColor:  d.DisplayColor,
		Label:         d.Label,
	}
}

// ListQueriesOptions filters and pages a query listing. Results are ordered
// by question date, newest first.
type ListQueriesOptions struct {
	Status        querystatus.RawStatus     `json:"status,omitempty"`
	DisplayStatus querystatus.DisplayStatus `json:"display_status,omitempty"`
	Username      string                    `json:"username,omitempty"`
	Limit         int                       `json:"limit,omitempty"`
	Offset        int                       `json:"offset,omitempty"`
}

// Normalize clamps the paging fields into range.
func (o ListQueriesOptions) Normalize() ListQueriesOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultQueryLimit
	}
	if o.Limit > MaxQueryLimit {
		o.Limit = MaxQueryLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// StatusCensus counts stored queries per display status.
type StatusCensus struct {
	Counts         map[querystatus.DisplayStatus]int64 `json:"counts"`
	Unclassifiable int64                               `json:"unclassifiable"`
	Total          int64                               `json:"total"`
	TakenAt        time.Time                           `json:"taken_at"`
}

// NewStatusCensus returns a census with a zero count for every display
// status.
func NewStatusCensus(at time.Time) *StatusCensus {
	c := &StatusCensus{
		Counts:  make(map[querystatus.DisplayStatus]int64),
		TakenAt: at,
	}
	for _, s := range querystatus.DisplayStatuses() {
		c.Counts[s] = 0
	}
	return c
}

// Add classifies one query and counts it.
func (c *StatusCensus) Add(raw querystatus.RawStatus, score float64) {
	c.Total++
	status, ok := querystatus.Classify(raw, score)
	if !ok {
		c.Unclassifiable++
		return
	}
	c.Counts[status]++
}
