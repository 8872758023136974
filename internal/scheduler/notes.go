package scheduler

import (
	"fmt"

	"github.com/wpshiftstudio/payin3/internal/models"
)

func chargedNote(inst models.Installment, txnID string) string {
	return fmt.Sprintf("Pay in 3: Installment #%s of %s successfully charged by Cron. Txn ID: %s",
		inst.ID, inst.Amount.StringFixed(models.MinorUnits), txnID)
}

func failedNote(inst models.Installment, reason string, retries, maxRetries int) string {
	return fmt.Sprintf("Pay in 3: Installment #%s of %s failed. Reason: %s. Retries: %d/%d.",
		inst.ID, inst.Amount.StringFixed(models.MinorUnits), reason, retries, maxRetries)
}

const completedNote = "Pay in 3: All installments are now paid. Order marked as completed."

func escalatedNote(installmentID string) string {
	return fmt.Sprintf("Pay in 3: Installment #%s failed after max retries. Subscription is now on hold. Requires manual intervention.",
		installmentID)
}
