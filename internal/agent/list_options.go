package agent

import "strings"

// SortOrder defines how agents are ordered when listing.
type SortOrder int

const (
	// SortByEarnedDesc orders agents by TotalEarned descending (leaderboard order).
	SortByEarnedDesc SortOrder = iota
	// SortByCreatedDesc orders agents by CreatedAt descending (newest first).
	SortByCreatedDesc
)

// ListOptions controls how agents are selected when querying the store.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []Status
	CreatorID string
	Order     SortOrder
}

// ApplyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) ApplyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByCreatedDesc {
		opts.Order = SortByEarnedDesc
	}
	opts.CreatorID = strings.TrimSpace(opts.CreatorID)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of agents returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching agents.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters agents by status.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithCreator filters agents launched by the given creator identity.
func WithCreator(creatorID string) ListOption {
	return func(opts *ListOptions) {
		opts.CreatorID = creatorID
	}
}

// WithSortOrder changes the returned order of agents.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// NewListOptions applies option functions on top of defaults.
func NewListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.ApplyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
