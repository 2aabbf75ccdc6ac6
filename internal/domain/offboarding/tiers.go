package offboarding

// Target is one table column holding a reference to the employee being removed.
type Target struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Tier is a dependency-ordered phase. Targets inside a tier never reference
// each other and are deleted concurrently; a tier starts only after the
// previous one finished without error.
type Tier struct {
	Number  int
	Name    string
	Targets []Target
}

var DependentTargets = []Target{
	{Table: "dependents", Column: "employee_id"},
	{Table: "salary_history", Column: "employee_id"},
	{Table: "certificates", Column: "employee_id"},
	{Table: "course_feedback", Column: "user_id"},
	{Table: "notification_read_receipts", Column: "user_id"},
	{Table: "payslip_email_logs", Column: "employee_id"},
	{Table: "report_logs", Column: "generated_by"},
	{Table: "vacation_history", Column: "employee_id"},
	{Table: "document_access_logs", Column: "user_id"},
	{Table: "document_comments", Column: "user_id"},
	{Table: "document_favorites", Column: "user_id"},
	{Table: "document_permissions", Column: "user_id"},
	{Table: "document_versions", Column: "created_by"},
	{Table: "payslips", Column: "employee_id"},
	{Table: "time_clock_entries", Column: "employee_id"},
	{Table: "exam_attempts", Column: "user_id"},
	{Table: "course_access_logs", Column: "user_id"},
	{Table: "time_edit_logs", Column: "employee_id"},
	{Table: "time_edit_logs", Column: "authorized_by"},
	{Table: "support_ticket_messages", Column: "sender_id"},
	{Table: "accrual_periods", Column: "employee_id"},
	{Table: "course_enrollments", Column: "user_id"},
	{Table: "form_assignments", Column: "employee_id"},
}

// AuthoredTargets are parents the employee created. Their remaining children
// (written by other employees) cascade at the database level.
var AuthoredTargets = []Target{
	{Table: "support_tickets", Column: "user_id"},
	{Table: "hr_forms", Column: "created_by"},
	{Table: "hr_forms", Column: "approved_by"},
	{Table: "documents", Column: "created_by"},
	{Table: "documents", Column: "updated_by"},
	{Table: "vacation_requests", Column: "employee_id"},
}

var RoleTargets = []Target{{Table: "user_roles", Column: "user_id"}}

var ProfileTargets = []Target{{Table: "profiles", Column: "id"}}

// DefaultTiers are the data tiers. Removing the identity record follows them
// as the final step.
func DefaultTiers() []Tier {
	return []Tier{
		{Number: 1, Name: "dependent records", Targets: DependentTargets},
		{Number: 2, Name: "authored records", Targets: AuthoredTargets},
		{Number: 3, Name: "role grants", Targets: RoleTargets},
		{Number: 4, Name: "profile", Targets: ProfileTargets},
	}
}

// IdentityTier numbers the credential removal step.
const IdentityTier = 5

// AllTargets lists every data target in tier order.
func AllTargets() []Target {
	return AllTargetsOf(DefaultTiers())
}
