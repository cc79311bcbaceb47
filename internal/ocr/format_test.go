package ocr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ocr-job-pipeline/internal/models"
)

func ptr(v float64) *float64 { return &v }

func TestResultMessage(t *testing.T) {
	f := NewFormatter("en")

	deposit := f.ResultMessage(models.DepositResult{Amount: ptr(1500000), Currency: "VND", Confidence: ptr(0.92)}, nil)
	assert.Contains(t, deposit, "<b>Amount:</b> 1,500,000")
	assert.Contains(t, deposit, "<b>Currency:</b> VND")
	assert.Contains(t, deposit, "<b>Confidence:</b> 0.92")
	assert.NotContains(t, deposit, "warnings")

	cert := f.ResultMessage(models.CertificateResult{MatchedPrice: ptr(24.5), MatchedQuantity: ptr(1000)}, nil)
	assert.Contains(t, cert, "<b>Matched price:</b> 24.5")
	assert.Contains(t, cert, "<b>Matched quantity:</b> 1,000")
	assert.Contains(t, cert, "<b>Confidence:</b> N/A")

	und := f.ResultMessage(models.UndeterminedResult{RawType: "invoice"}, []string{"<script>"})
	assert.Contains(t, und, "<b>Type:</b> Undetermined")
	assert.Contains(t, und, "- &lt;script&gt;")
	assert.NotContains(t, und, "<script>")
	assert.Contains(t, und, "choose <b>Confirm</b> or <b>Reject</b>")

	blank := f.ResultMessage(models.DepositResult{}, nil)
	assert.Contains(t, blank, "<b>Amount:</b> N/A")
	assert.Contains(t, blank, "<b>Currency:</b> N/A")
}

func TestFormatterLocale(t *testing.T) {
	vi := NewFormatter("vi")
	assert.Contains(t, vi.ResultMessage(models.DepositResult{Amount: ptr(1500000)}, nil), "1.500.000")

	fallback := NewFormatter("not a locale!")
	assert.Contains(t, fallback.ResultMessage(models.DepositResult{Amount: ptr(1500000)}, nil), "1,500,000")

	assert.Contains(t, vi.FailureNotice(3), "3 attempts")
}
