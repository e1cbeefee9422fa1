package reward

import "time"

// DefaultCommitTimeout bounds the ledger commit that follows a payment attempt.
const DefaultCommitTimeout = 15 * time.Second

const (
	operationReward      = "reward"
	operationCheckFollow = "check_follow"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusSkipped = "skipped"

	errorCodeMissingParameters     = "missing_parameters"
	errorCodeDirectoryUnavailable  = "directory_unavailable"
	errorCodeNotFollowing          = "not_following"
	errorCodeLedgerFetch           = "ledger_fetch"
	errorCodeLedgerDecode          = "ledger_decode"
	errorCodeAlreadyPaid           = "already_paid"
	errorCodeRecipientUnresolvable = "recipient_unresolvable"
	errorCodeInvoiceCreation       = "invoice_creation"
	errorCodeWalletConnect         = "wallet_connect"
	errorCodeLedgerCommit          = "ledger_commit"

	milliSatsPerSat = 1000
)

// Stage names a step of the reward state machine.
type Stage string

const (
	StageValidateInput  Stage = "validate_input"
	StageVerifyFollower Stage = "verify_follower"
	StageLoadLedger     Stage = "load_ledger"
	StageCheckDuplicate Stage = "check_duplicate"
	StageIssueInvoice   Stage = "issue_invoice"
	StageExecutePayment Stage = "execute_payment"
	StageCommitLedger   Stage = "commit_ledger"
	StageRespond        Stage = "respond"
)

// String returns the stage name.
func (stage Stage) String() string {
	return string(stage)
}
