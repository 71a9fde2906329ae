package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rafflekeeper/apps/backend/features/job"
	"rafflekeeper/apps/backend/internal/queue"
)

// MockQueue implements job.Queue
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Get(ctx context.Context, id string) (*queue.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockQueue) ListPending(ctx context.Context, key string) ([]queue.Job, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Job), args.Error(1)
}

func (m *MockQueue) ListDeadLetters(ctx context.Context) ([]queue.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Job), args.Error(1)
}

func (m *MockQueue) Retry(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func TestHandler_List(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mq := new(MockQueue)
		mq.On("ListDeadLetters", mock.Anything).Return([]queue.Job{{ID: "j1", Key: "7", Status: queue.StatusFailed, LastError: "reverted"}}, nil)
		h := job.NewHandler(job.NewService(mq))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		data := body["data"].([]interface{})
		require.Len(t, data, 1)
		assert.Equal(t, "reverted", data[0].(map[string]interface{})["last_error"])
	})

	t.Run("Empty list is an array", func(t *testing.T) {
		mq := new(MockQueue)
		mq.On("ListDeadLetters", mock.Anything).Return(nil, nil)
		h := job.NewHandler(job.NewService(mq))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"data":[]`)
	})

	t.Run("Error", func(t *testing.T) {
		mq := new(MockQueue)
		mq.On("ListDeadLetters", mock.Anything).Return(nil, errors.New("db down"))
		h := job.NewHandler(job.NewService(mq))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest("GET", "/jobs/failed", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_Pending(t *testing.T) {
	mq := new(MockQueue)
	mq.On("ListPending", mock.Anything, "7").Return([]queue.Job{{ID: "j1", Key: "7", Status: queue.StatusDelayed}}, nil)
	h := job.NewHandler(job.NewService(mq))

	w := httptest.NewRecorder()
	h.Pending(w, httptest.NewRequest("GET", "/jobs?key=7", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = httptest.NewRecorder()
	h.Pending(w, httptest.NewRequest("GET", "/jobs", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Retry(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*MockQueue)
		wantStatus int
		wantCode   string
	}{
		{
			name: "Success",
			setup: func(m *MockQueue) {
				m.On("Get", mock.Anything, "j1").Return(&queue.Job{ID: "j1", Status: queue.StatusFailed}, nil)
				m.On("Retry", mock.Anything, "j1").Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "NotFound",
			setup: func(m *MockQueue) {
				m.On("Get", mock.Anything, "j1").Return(nil, queue.ErrJobNotFound)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "Not dead-lettered",
			setup: func(m *MockQueue) {
				m.On("Get", mock.Anything, "j1").Return(&queue.Job{ID: "j1", Status: queue.StatusDelayed}, nil)
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name: "Key already rescheduled",
			setup: func(m *MockQueue) {
				m.On("Get", mock.Anything, "j1").Return(&queue.Job{ID: "j1", Status: queue.StatusFailed}, nil)
				m.On("Retry", mock.Anything, "j1").Return(fmt.Errorf("%w: 7 has job j2", queue.ErrPendingExists))
			},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name: "Store error",
			setup: func(m *MockQueue) {
				m.On("Get", mock.Anything, "j1").Return(&queue.Job{ID: "j1", Status: queue.StatusFailed}, nil)
				m.On("Retry", mock.Anything, "j1").Return(errors.New("db down"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mq := new(MockQueue)
			tt.setup(mq)

			mux := http.NewServeMux()
			mux.HandleFunc("POST /jobs/{id}/retry", job.NewHandler(job.NewService(mq)).Retry)

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("POST", "/jobs/j1/retry", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				var body map[string]interface{}
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.Equal(t, tt.wantCode, body["error"].(map[string]interface{})["code"])
			}
			mq.AssertExpectations(t)
		})
	}
}
