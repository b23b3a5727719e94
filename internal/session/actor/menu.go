package actor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var (
	pinPattern    = regexp.MustCompile(`^\d{4}$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
)

const (
	promptInvalidPIN = "Invalid PIN. Please enter a 4-digit PIN:"

	promptMainMenu = "Welcome to the WORLD of LOOP\n\n" +
		"1. Deposit\n" +
		"2. Send Money\n" +
		"3. Pay to LOOP III\n" +
		"4. Pay LOOP to M-PESA\n" +
		"5. Loan & Savings\n" +
		"6. Account Balance\n" +
		"7. About LOOP\n\n" +
		"0. Exit"
	promptMainMenuBadNumber = "Invalid selection. Please choose 1-7 or 0 to exit:"
	promptMainMenuBadInput  = "Invalid input. Please enter a number 1-7 or 0 to exit:"
	promptGoodbye           = "Thank you for using LOOP. Goodbye!"

	promptBack = "Invalid input. Enter 0 to go back:"

	promptDepositMenu = "Deposit\n\n" +
		"1. MPESA to LOOP\n" +
		"2. Airtel Money to LOOP\n\n" +
		"0. Back"
	promptDepositBadNumber = "Invalid selection. Choose 1 or 2:"
	promptDepositBadInput  = "Invalid input. Please enter 1 or 2:"

	promptInvalidAmount = "Invalid amount. Please enter a valid amount:"

	promptConfirmBadPIN   = "Incorrect PIN. Enter your PIN to confirm or 0 to cancel:"
	promptConfirmBadToken = "Invalid choice. Enter 1 to Confirm or 0 to Cancel:"
)

const (
	ProviderMpesa  = "MPESA"
	ProviderAirtel = "Airtel Money"
)

// leafFeature is a main-menu entry that only offers a way back.
type leafFeature struct {
	State ProtocolState
	Text  string
}

var leafFeatures = map[int]leafFeature{
	2: {StateSendMoney, "Send Money\n\nFeature coming soon!\n\n0. Back"},
	3: {StatePayBill, "Pay to LOOP III\n\nFeature coming soon!\n\n0. Back"},
	4: {StatePayMpesa, "Pay LOOP to M-PESA\n\nFeature coming soon!\n\n0. Back"},
	5: {StateLoansSavings, "Loan & Savings\n\nFeature coming soon!\n\n0. Back"},
	7: {StateAbout, "LOOP - Mobile Money Service\nVersion 2.1.0\n\n0. Back"},
}

func isLeaf(s ProtocolState) bool {
	for _, f := range leafFeatures {
		if f.State == s {
			return true
		}
	}
	return false
}

var depositProviders = map[int]string{
	1: ProviderMpesa,
	2: ProviderAirtel,
}

func balanceText(balance int64) string {
	return fmt.Sprintf("Account Balance: KSh %d\n\nAvailable: KSh %d\nLoaned: KSh 0", balance, balance)
}

func amountPrompt(provider string) string {
	return fmt.Sprintf("Deposit from %s\n\nEnter Amount:", provider)
}

func confirmPrompt(mode ConfirmMode, provider string, amount int64) string {
	head := fmt.Sprintf("Confirm Deposit:\n\nFrom: %s\nAmount: KSh %d\nTo: LOOP Account\n\n", provider, amount)
	if mode == ConfirmToken {
		return head + "1. Confirm\n0. Cancel"
	}
	return head + "Enter your PIN to confirm or 0 to cancel:"
}

func successText(provider string, amount, balance int64, txnID string) string {
	return fmt.Sprintf("Deposit Successful!\n\nAmount: KSh %d\nFrom: %s\nNew Balance: KSh %d\n\n"+
		"Transaction ID: %s\n\nThank you for using LOOP!", amount, provider, balance, txnID)
}

// menuChoice parses a menu selection. ok is false for non-numeric input;
// numeric input that does not fit an int yields -1.
func menuChoice(text string) (n int, ok bool) {
	if !digitsPattern.MatchString(text) {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return -1, true
	}
	return n, true
}

// parseAmount accepts positive integral amounts that keep balance+amount
// representable.
func parseAmount(text string, balance int64) (int64, bool) {
	if !digitsPattern.MatchString(text) {
		return 0, false
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	if balance > 0 && n > math.MaxInt64-balance {
		return 0, false
	}
	return n, true
}
