package cmd

import (
	"errors"

	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/models"
	"github.com/marcus/offtask/internal/output"
	"github.com/marcus/offtask/internal/store"
	tsync "github.com/marcus/offtask/internal/sync"
	"github.com/marcus/offtask/internal/tasks"
)

// errOffline is returned by commands that need the remote API when the
// connectivity probe fails.
var errOffline = errors.New("remote API is unreachable; local changes stay pending")

// errorCode maps an error to its structured output code
func errorCode(err error) string {
	var (
		valErr *models.ValidationError
		ambErr *tasks.AmbiguousRefError
		stErr  *store.StorageError
		netErr *apiclient.NetworkError
		apiErr *apiclient.APIError
	)
	switch {
	case errors.As(err, &valErr):
		return output.ErrCodeInvalidInput
	case errors.As(err, &ambErr):
		return output.ErrCodeAmbiguous
	case errors.Is(err, store.ErrNotFound):
		return output.ErrCodeNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return output.ErrCodeConflict
	case errors.Is(err, tsync.ErrSyncInProgress):
		return output.ErrCodeSyncInProgress
	case errors.Is(err, errOffline), errors.As(err, &netErr), errors.As(err, &apiErr):
		return output.ErrCodeNetworkError
	case errors.As(err, &stErr):
		return output.ErrCodeStorageError
	}
	return output.ErrCodeInternal
}

// reportError prints err in the selected output mode
func reportError(err error) {
	code := errorCode(err)
	if jsonFlag {
		var details map[string]interface{}
		var ambErr *tasks.AmbiguousRefError
		if errors.As(err, &ambErr) {
			ids := make([]string, 0, len(ambErr.Candidates))
			for _, t := range ambErr.Candidates {
				ids = append(ids, t.ID)
			}
			details = map[string]interface{}{"candidates": ids, "total": ambErr.Total}
		}
		output.JSONErrorWithDetails(code, err.Error(), details)
		return
	}

	output.Error("%v", err)
	var ambErr *tasks.AmbiguousRefError
	if errors.As(err, &ambErr) {
		for _, t := range ambErr.Candidates {
			output.Info("  %s", output.TaskOneLiner(&t))
		}
	}
}
