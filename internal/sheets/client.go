package sheets

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/ballhead/ballhead/pkg/errors"
)

// Client reads cell ranges through the Sheets v4 values API
type Client struct {
	srv     *sheetsapi.Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a Sheets client. requestTimeout bounds each batch read; zero disables it.
func NewClient(ctx context.Context, requestTimeout time.Duration, opts ...option.ClientOption) (*Client, error) {
	srv, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOriginAuth, "failed to create sheets service").
			WithComponent("sheets").WithOperation("new_client")
	}

	return &Client{
		srv:     srv,
		timeout: requestTimeout,
		logger:  slog.Default().With("component", "sheets"),
	}, nil
}

// BatchGet fetches ranges from one spreadsheet in a single values.batchGet request.
// Results are in request order; a range with no data yields an empty row list.
func (c *Client) BatchGet(ctx context.Context, spreadsheetID string, ranges []string) ([][][]string, error) {
	if len(ranges) == 0 {
		return nil, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.srv.Spreadsheets.Values.BatchGet(spreadsheetID).
		Ranges(ranges...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(ctx, err).
			WithContext("spreadsheet_id", spreadsheetID).
			WithDetail("ranges", len(ranges))
	}

	out := make([][][]string, len(ranges))
	for i := range ranges {
		if i < len(resp.ValueRanges) && resp.ValueRanges[i] != nil {
			out[i] = toRows(resp.ValueRanges[i].Values)
		} else {
			out[i] = [][]string{}
		}
	}

	c.logger.Debug("Batch read completed",
		"spreadsheet_id", spreadsheetID,
		"ranges", len(ranges),
		"value_ranges", len(resp.ValueRanges))

	return out, nil
}

// toRows stringifies cell values, keeping rows ragged as the API returns them.
func toRows(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, cell := range row {
			if cell == nil {
				continue
			}
			cells[j] = fmt.Sprint(cell)
		}
		rows[i] = cells
	}
	return rows
}

// classifyError maps a Sheets API failure to a structured error. Quota and
// server errors are retryable; malformed ranges and access errors are not.
func classifyError(ctx context.Context, err error) *errors.BallheadError {
	var apiErr *googleapi.Error
	if stderr.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return errors.Wrap(err, errors.ErrCodeQuotaExceeded, "sheets quota exceeded").
				WithComponent("sheets").WithOperation("batch_get")
		case apiErr.Code >= http.StatusInternalServerError:
			return errors.Wrap(err, errors.ErrCodeOriginFetch, fmt.Sprintf("sheets replied with HTTP code %d", apiErr.Code)).
				WithComponent("sheets").WithOperation("batch_get").WithRetryable(true)
		case apiErr.Code == http.StatusBadRequest:
			return errors.Wrap(err, errors.ErrCodeInvalidRange, "sheets rejected the requested ranges").
				WithComponent("sheets").WithOperation("batch_get")
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return errors.Wrap(err, errors.ErrCodePermissionDenied, "no access to spreadsheet").
				WithComponent("sheets").WithOperation("batch_get")
		default:
			return errors.Wrap(err, errors.ErrCodeOriginFetch, fmt.Sprintf("sheets replied with HTTP code %d", apiErr.Code)).
				WithComponent("sheets").WithOperation("batch_get")
		}
	}

	switch {
	case stderr.Is(err, context.DeadlineExceeded) || stderr.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrCodeOperationTimeout, "sheets request timed out").
			WithComponent("sheets").WithOperation("batch_get")
	case stderr.Is(err, context.Canceled) || stderr.Is(ctx.Err(), context.Canceled):
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, "sheets request canceled").
			WithComponent("sheets").WithOperation("batch_get")
	}

	// Transport failures never reached the API and are worth another attempt.
	return errors.Wrap(err, errors.ErrCodeOriginFetch, "failed to call sheets").
		WithComponent("sheets").WithOperation("batch_get").WithRetryable(true)
}
