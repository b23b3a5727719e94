// Package simulator is a canned USSD menu tree standing in for a real
// network. It answers the same prompts a LOOP subscriber would see, which
// lets the engine run end to end without a phone.
package simulator

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bhandras/ussdpilot/pkg/logger"
)

// PIN is the only service PIN the simulator accepts.
const PIN = "0202"

// Kind mirrors the request/response flag of a USSD message: REQUEST keeps
// the dialog open, RESPONSE closes it.
type Kind string

const (
	KindRequest  Kind = "REQUEST"
	KindResponse Kind = "RESPONSE"
	KindError    Kind = "ERROR"
)

// Response is one screen shown by the simulator.
type Response struct {
	Message string `json:"message"`
	Kind    Kind   `json:"kind"`
}

type stage int

const (
	stageIdle stage = iota
	stagePIN
	stageMainMenu
	stageDepositMenu
	stageAmount
	stageConfirm
	stageProcessing
)

const (
	mainMenu = "Welcome to the WORLD of LOOP\n\n" +
		"1. Deposit\n" +
		"2. Send Money\n" +
		"3. Pay to LOOP III\n" +
		"4. Pay LOOP to M-PESA\n" +
		"5. Loan & Savings\n" +
		"6. Account Balance\n" +
		"7. About LOOP\n\n" +
		"0. Exit"

	depositMenu = "Deposit\n\n" +
		"1. MPESA to LOOP\n" +
		"2. Airtel Money to LOOP\n\n" +
		"0. Back"
)

var leafScreens = map[int]string{
	2: "Send Money\n\nFeature coming soon!\n\n0. Back",
	3: "Pay to LOOP III\n\nFeature coming soon!\n\n0. Back",
	4: "Pay LOOP to M-PESA\n\nFeature coming soon!\n\n0. Back",
	5: "Loan & Savings\n\nFeature coming soon!\n\n0. Back",
	7: "LOOP - Mobile Money Service\nVersion 2.1.0\n\n0. Back",
}

// Simulator walks the LOOP menu tree. It is safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	balance  int64
	stage    stage
	provider string
	amount   int64

	// now stamps transaction ids.
	now func() time.Time
}

// New returns a simulator whose account holds balance.
func New(balance int64) *Simulator {
	return &Simulator{balance: balance, now: time.Now}
}

// Active reports whether a journey is in progress.
func (s *Simulator) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage != stageIdle
}

// StartJourney opens a new dialog at the PIN prompt.
func (s *Simulator) StartJourney() Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.stage = stagePIN
	return request("Welcome to the WORLD of LOOP\n\nEnter LOOP USSD service PIN:")
}

// Reset drops any journey in progress.
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// ProcessInput answers one subscriber input.
func (s *Simulator) ProcessInput(input string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Tracef("[simulator] input %q at stage %d", input, s.stage)

	switch s.stage {
	case stagePIN:
		return s.pinEntry(input)
	case stageMainMenu:
		return s.mainMenu(input)
	case stageDepositMenu:
		return s.depositMenu(input)
	case stageAmount:
		return s.amountEntry(input)
	case stageConfirm:
		return s.confirm(input)
	case stageProcessing:
		return s.complete()
	default:
		s.resetLocked()
		return Response{Message: "Session error. Please start again.", Kind: KindError}
	}
}

func (s *Simulator) pinEntry(pin string) Response {
	if pin != PIN {
		return request("Invalid PIN. Please enter correct PIN:")
	}
	s.stage = stageMainMenu
	return request(mainMenu)
}

func (s *Simulator) mainMenu(input string) Response {
	if input == "0" {
		s.resetLocked()
		return response("Thank you for using LOOP. Goodbye!")
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return request("Invalid input. Please enter a number 1-7 or 0 to exit:")
	}
	switch n {
	case 1:
		s.stage = stageDepositMenu
		return request(depositMenu)
	case 6:
		return response(fmt.Sprintf("Account Balance: KSh %d.00\n\nAvailable: KSh %d.00\nLoaned: KSh 0.00\n\n0. Back",
			s.balance, s.balance))
	}
	if screen, ok := leafScreens[n]; ok {
		return request(screen)
	}
	return request("Invalid selection. Please choose 1-7 or 0 to exit:")
}

func (s *Simulator) depositMenu(input string) Response {
	if input == "0" {
		s.stage = stageMainMenu
		return request(mainMenu)
	}
	n, err := strconv.Atoi(input)
	if err != nil {
		return request("Invalid input. Please enter 1 or 2:")
	}
	switch n {
	case 1:
		s.provider = "MPESA"
	case 2:
		s.provider = "Airtel Money"
	default:
		return request("Invalid selection. Choose 1 or 2:")
	}
	s.stage = stageAmount
	return request("Deposit from " + s.provider + "\n\nEnter Amount:")
}

func (s *Simulator) amountEntry(input string) Response {
	if input == "0" {
		s.stage = stageDepositMenu
		return request(depositMenu)
	}
	amount, err := strconv.ParseInt(input, 10, 64)
	if err != nil || amount <= 0 || input[0] == '+' {
		return request("Invalid amount. Please enter a valid amount:")
	}
	s.amount = amount
	s.stage = stageConfirm
	return request(fmt.Sprintf("Confirm Deposit:\n\nFrom: %s\nAmount: KSh %d\nTo: LOOP Account\n\n1. Confirm\n0. Cancel",
		s.provider, amount))
}

func (s *Simulator) confirm(input string) Response {
	switch input {
	case "0":
		s.stage = stageAmount
		return request("Enter Amount:")
	case "1":
		s.stage = stageProcessing
		return request("Processing transaction...\n\nYou will receive a prompt on " +
			s.provider + " to complete the deposit.")
	default:
		return request("Invalid choice. Enter 1 to Confirm or 0 to Cancel:")
	}
}

func (s *Simulator) complete() Response {
	s.balance += s.amount
	msg := fmt.Sprintf("✓ Deposit Successful!\n\nAmount: KSh %d\nFrom: %s\nNew Balance: KSh %d\n\n"+
		"Transaction ID: TXN%d\n\nYou will receive an SMS confirmation.\n\nThank you for using LOOP!",
		s.amount, s.provider, s.balance, s.now().UnixMilli())
	s.resetLocked()
	return response(msg)
}

func (s *Simulator) resetLocked() {
	s.stage = stageIdle
	s.provider = ""
	s.amount = 0
}

func request(msg string) Response  { return Response{Message: msg, Kind: KindRequest} }
func response(msg string) Response { return Response{Message: msg, Kind: KindResponse} }
