package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowedFrom(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusPending, StatusProcessing}, AllowedFrom(StatusFailed))
	assert.Equal(t, []Status{StatusNeedConfirm}, AllowedFrom(StatusConfirmed))
	assert.Equal(t, []Status{StatusNeedConfirm}, AllowedFrom(StatusRejected))

	for _, to := range []Status{StatusPending, StatusProcessing, StatusNeedConfirm, StatusConfirmed, StatusRejected, StatusFailed} {
		for _, from := range AllowedFrom(to) {
			assert.False(t, from.IsTerminal(), "%s -> %s", from, to)
		}
	}
}

func TestStartMessageFor(t *testing.T) {
	msg := StartMessageFor(Job{ID: "j1", IdempotencyKey: "k1", ChatID: "c1", UserID: "u1", Status: StatusFailed})
	assert.Equal(t, StartMessage{JobID: "j1", IdempotencyKey: "k1", ChatID: "c1", UserID: "u1"}, msg)
}

func TestLedgerTransactionID(t *testing.T) {
	assert.Equal(t, "ocr_abc", LedgerTransactionID("abc"))
}
