package stats

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"rafflekeeper/apps/backend/internal/queue"
)

type MockJobCounter struct{ mock.Mock }

func (m *MockJobCounter) Counts(ctx context.Context) (map[queue.Status]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[queue.Status]int), args.Error(1)
}

type MockRoundReader struct{ mock.Mock }

func (m *MockRoundReader) CurrentRoundID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func TestHandler_GetStats_Table(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockJobCounter, *MockRoundReader)
		wantStatus int
		wantError  bool
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			setupMocks: func(j *MockJobCounter, r *MockRoundReader) {
				j.On("Counts", mock.Anything).Return(map[queue.Status]int{
					queue.StatusDelayed:   1,
					queue.StatusCompleted: 6,
					queue.StatusFailed:    2,
				}, nil)
				r.On("CurrentRoundID", mock.Anything).Return(big.NewInt(8), nil)
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.Equal(t, "8", data["current_round"])
				assert.EqualValues(t, 2, data["failed_jobs"])
				assert.EqualValues(t, 1, data["pending_jobs"])
				jobs := data["jobs"].(map[string]interface{})
				assert.EqualValues(t, 6, jobs["completed"])
				assert.EqualValues(t, 0, jobs["active"])
			},
		},
		{
			name: "Ledger down still reports jobs",
			setupMocks: func(j *MockJobCounter, r *MockRoundReader) {
				j.On("Counts", mock.Anything).Return(map[queue.Status]int{queue.StatusFailed: 1}, nil)
				r.On("CurrentRoundID", mock.Anything).Return(nil, errors.New("rpc timeout"))
			},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.NotContains(t, data, "current_round")
				assert.EqualValues(t, 1, data["failed_jobs"])
			},
		},
		{
			name: "JobCounter Error",
			setupMocks: func(j *MockJobCounter, r *MockRoundReader) {
				j.On("Counts", mock.Anything).Return(nil, errors.New("db error"))
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mJobs := new(MockJobCounter)
			mRounds := new(MockRoundReader)

			tt.setupMocks(mJobs, mRounds)

			h := NewHandler(mJobs, mRounds)
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			h.GetStats(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body map[string]interface{}
			err := json.NewDecoder(resp.Body).Decode(&body)
			assert.NoError(t, err)

			if tt.wantError {
				assert.Contains(t, body, "error")
				errMap := body["error"].(map[string]interface{})
				assert.Equal(t, "INTERNAL_ERROR", errMap["code"])
			} else {
				tt.checkBody(t, body)
			}
		})
	}
}
