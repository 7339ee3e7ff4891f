package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetrievalCodes_CategoryIsRetrieval(t *testing.T) {
	codes := []string{
		ErrCodeNotInitialized,
		ErrCodeDatabaseConnection,
		ErrCodeIndexCorruption,
		ErrCodeContentExtraction,
		ErrCodeConcurrentUpdateConflict,
		ErrCodeHybridFusionFailed,
		ErrCodeBudgetExceeded,
		ErrCodeTemplateRender,
		ErrCodeRetrievalTimeout,
	}
	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			err := New(code, "test", nil)
			assert.Equal(t, CategoryRetrieval, err.Category)
		})
	}
}

func TestRetrievalCodes_SeverityAndRetryable(t *testing.T) {
	tests := []struct {
		code          string
		wantSeverity  Severity
		wantRetryable bool
	}{
		{ErrCodeIndexCorruption, SeverityFatal, false},
		{ErrCodeDatabaseConnection, SeverityFatal, false},
		{ErrCodeConcurrentUpdateConflict, SeverityWarning, true},
		{ErrCodeHybridFusionFailed, SeverityWarning, true},
		{ErrCodeRetrievalTimeout, SeverityWarning, true},
		{ErrCodeBudgetExceeded, SeverityWarning, false},
		{ErrCodeTemplateRender, SeverityWarning, false},
		{ErrCodeNotInitialized, SeverityError, false},
		{ErrCodeContentExtraction, SeverityError, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestIsRecoverableMessage(t *testing.T) {
	assert.True(t, IsRecoverableMessage("database is locked"))
	assert.True(t, IsRecoverableMessage("operation timeout after 5s"))
	assert.True(t, IsRecoverableMessage("server busy, retry later"))
	assert.True(t, IsRecoverableMessage("network is unreachable"))
	assert.False(t, IsRecoverableMessage("invalid query syntax"))
}

func TestNotInitializedError(t *testing.T) {
	err := NotInitializedError("hybrid retriever")
	assert.Equal(t, ErrCodeNotInitialized, err.Code)
	assert.Contains(t, err.Message, "hybrid retriever")
}

func TestBudgetExceededError_IsWarning(t *testing.T) {
	err := BudgetExceededError("pack exceeds budget by 120 tokens")
	assert.Equal(t, SeverityWarning, err.Severity)
	assert.False(t, err.Retryable)
}
