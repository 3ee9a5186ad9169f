package sfcli

// TestLevel is the scope passed to `sf apex run test --test-level`.
type TestLevel string

const (
	// TestLevelRunSpecifiedTests runs only the tests named in the request.
	TestLevelRunSpecifiedTests TestLevel = "RunSpecifiedTests"
	// TestLevelRunLocalTests runs every test in the org except managed package tests.
	TestLevelRunLocalTests TestLevel = "RunLocalTests"
	// TestLevelRunAllTestsInOrg runs every test in the org.
	TestLevelRunAllTestsInOrg TestLevel = "RunAllTestsInOrg"
)

// TestItem names one Apex test class and, optionally, a subset of its methods.
type TestItem struct {
	ClassName   string
	TestMethods []string
}

// RunTestsRequest describes one synchronous Apex test run.
type RunTestsRequest struct {
	TargetOrg string
	Tests     []TestItem
	TestLevel TestLevel
}

// TestResultEntry is one executed test method. Field matching is
// case-insensitive, so both the library (apexLogId) and CLI (ApexLogId)
// spellings decode into the same fields.
type TestResultEntry struct {
	ID         string  `json:"id,omitempty"`
	FullName   string  `json:"fullName,omitempty"`
	MethodName string  `json:"methodName,omitempty"`
	Outcome    string  `json:"outcome,omitempty"`
	Message    *string `json:"message,omitempty"`
	StackTrace *string `json:"stackTrace,omitempty"`
	ApexLogID  *string `json:"apexLogId,omitempty"`
}

// LogID returns the entry's log id and whether it is present and non-blank.
func (e TestResultEntry) LogID() (string, bool) {
	if e.ApexLogID == nil {
		return "", false
	}
	if *e.ApexLogID == "" {
		return "", false
	}
	return *e.ApexLogID, true
}

// TestRunResult is the `result` payload of `sf apex run test --synchronous`.
type TestRunResult struct {
	Summary map[string]any    `json:"summary,omitempty"`
	Tests   []TestResultEntry `json:"tests"`
}

// OrgInfo is the subset of `sf org display` output the runner needs.
// Access tokens are deliberately not decoded.
type OrgInfo struct {
	ID              string `json:"id"`
	Username        string `json:"username"`
	Alias           string `json:"alias,omitempty"`
	InstanceURL     string `json:"instanceUrl"`
	ConnectedStatus string `json:"connectedStatus,omitempty"`
}

// SaveResult is the `result` payload of `sf data create record`.
type SaveResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// QueryOpts controls `sf data query`.
type QueryOpts struct {
	TargetOrg string
	Query     string
	Tooling   bool
}

// RecordOpts controls `sf data create record` and `sf data update record`.
type RecordOpts struct {
	TargetOrg string
	SObject   string
	RecordID  string
	Values    map[string]string
	Tooling   bool
}
