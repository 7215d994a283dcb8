package monitoring

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/kirinyoku/tixledger/internal/domain"
)

func TestTrackOperation(t *testing.T) {
	okBefore := testutil.ToFloat64(ledgerOperations.WithLabelValues("mint", StatusOK))
	errBefore := testutil.ToFloat64(ledgerOperations.WithLabelValues("mint", StatusError))

	TrackOperation("mint", nil)
	TrackOperation("mint", errors.New("boom"))
	TrackOperation("mint", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(ledgerOperations.WithLabelValues("mint", StatusOK)))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(ledgerOperations.WithLabelValues("mint", StatusError)))
}

func TestTrackTransfers(t *testing.T) {
	before := testutil.ToFloat64(paymentAmount.WithLabelValues(string(domain.TransferCommission)))

	TrackTransfers([]domain.Transfer{
		{Kind: domain.TransferCommission, Amount: 300},
		{Kind: domain.TransferCommission, Amount: 0},
	})

	assert.Equal(t, before+300, testutil.ToFloat64(paymentAmount.WithLabelValues(string(domain.TransferCommission))))
}
