package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Configuration errors (100-199). These are fatal and must be rejected
	// before the simulation loop starts.
	ErrCodeInvalidParameter       ErrorCode = 100
	ErrCodeInvalidConfiguration   ErrorCode = 101
	ErrCodeInvalidPercentile      ErrorCode = 102
	ErrCodeInvalidAllocation      ErrorCode = 103
	ErrCodeInvalidRebalancePeriod ErrorCode = 104
	ErrCodeInvalidWindow          ErrorCode = 105
	ErrCodeInsufficientData       ErrorCode = 106
	ErrCodeInvalidType            ErrorCode = 107
	ErrCodeMissingParameter       ErrorCode = 108
	ErrCodeUnknownConfigKey       ErrorCode = 109
	ErrCodeInvalidWeightingMethod ErrorCode = 110

	// Data/panel errors (200-299). Data insufficiency is recoverable and
	// degrades to "no position"; panel validation failures are not.
	ErrCodeDataNotFound     ErrorCode = 200
	ErrCodeEmptyPanel       ErrorCode = 201
	ErrCodeQueryFailed      ErrorCode = 202
	ErrCodeInvalidPriceBar  ErrorCode = 203
	ErrCodeDuplicateBar     ErrorCode = 204
	ErrCodeNonPositiveClose ErrorCode = 205
	ErrCodeUnorderedBars    ErrorCode = 206
	ErrCodeAssetNotFound    ErrorCode = 207
	ErrCodePanelLoadFailed  ErrorCode = 208

	// Factor errors (300-399)
	ErrCodeScorerNotFound      ErrorCode = 300
	ErrCodeScorerAlreadyExists ErrorCode = 301
	ErrCodeScoreComputation    ErrorCode = 302
	ErrCodeReferenceRequired   ErrorCode = 303

	// Schedule state errors (400-499)
	ErrCodeStateCorruption  ErrorCode = 400
	ErrCodeStatePersistence ErrorCode = 401
	ErrCodeStateLoadFailed  ErrorCode = 402
	ErrCodeStateResetFailed ErrorCode = 403

	// Backtest errors (600-699)
	ErrCodeBacktestStateNil     ErrorCode = 600
	ErrCodeBacktestInitFailed   ErrorCode = 601
	ErrCodeBacktestConfigError  ErrorCode = 602
	ErrCodeBacktestNoData       ErrorCode = 603
	ErrCodeBacktestNoResultsDir ErrorCode = 604
	ErrCodeBacktestWriteFailed  ErrorCode = 605
)
