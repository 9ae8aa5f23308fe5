// Package hash produces deterministic content-addressed identifiers for
// transactions and installment groups. These are dedup keys, not
// security hashes: no secret, no salt, sha256 chosen for its negligible
// collision odds across a household's transaction history.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yaronmolho1/Expense-tracker-sub003/internal/domain"
)

const dateLayout = "2006-01-02"

// Transaction derives the identity of a single charge or refund.
// The amount is fixed to two decimals before hashing so float noise in
// upstream parsers can never split one logical charge into two
// identities. installmentIndex is 0 for non-installment charges. The
// refund flag is part of the preimage so a refund never collides with
// the charge it reverses.
func Transaction(
	normalizedName string,
	dealDate time.Time,
	amount decimal.Decimal,
	cardLast4 string,
	installmentIndex int,
	paymentType domain.PaymentType,
	isRefund bool,
) string {
	parts := []string{
		normalizedName,
		dealDate.Format(dateLayout),
		amount.StringFixed(2),
		cardLast4,
		strconv.Itoa(installmentIndex),
		string(paymentType),
		strconv.FormatBool(isRefund),
	}
	return digest(parts)
}

// InstallmentGroup derives the identity of a multi-payment purchase.
// The card is deliberately excluded: an installment plan must stay
// linked across a card reissue mid-sequence. dealDate is the deal date
// of payment 1, back-calculated by the caller when the sighted payment
// is not the first.
func InstallmentGroup(
	normalizedName string,
	totalSum decimal.Decimal,
	installmentTotal int,
	dealDate time.Time,
) string {
	parts := []string{
		normalizedName,
		totalSum.StringFixed(2),
		strconv.Itoa(installmentTotal),
		dealDate.Format(dateLayout),
	}
	return digest(parts)
}

// InstallmentTransaction derives the identity of one payment within an
// established group.
func InstallmentTransaction(groupID string, index int) string {
	return digest([]string{groupID, fmt.Sprintf("payment_%d", index)})
}

func digest(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
