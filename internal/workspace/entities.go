package workspace

import "time"

// Company is the root identity record at company/company.yaml.
type Company struct {
	SchemaVersion int    `yaml:"schema_version"`
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	CreatedAt     time.Time `yaml:"created_at"`
}

// Team is org/teams/<team_id>/team.yaml.
type Team struct {
	SchemaVersion int      `yaml:"schema_version"`
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	ManagerAgent  string   `yaml:"manager_agent_id,omitempty"`
	Members       []string `yaml:"members,omitempty"`
}

// Agent is org/agents/<agent_id>/agent.yaml.
type Agent struct {
	SchemaVersion int    `yaml:"schema_version"`
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Role          Role   `yaml:"role"`
	TeamID        string `yaml:"team_id,omitempty"`
	Kind          string `yaml:"kind,omitempty"` // "worker" | "director" | ...
}

// Role enumerates actor roles used throughout governance.
type Role string

const (
	RoleHuman    Role = "human"
	RoleCEO      Role = "ceo"
	RoleDirector Role = "director"
	RoleManager  Role = "manager"
	RoleWorker   Role = "worker"
)

// roleRank orders roles for "role >= X" comparisons used by policy.
var roleRank = map[Role]int{
	RoleWorker:   0,
	RoleManager:  1,
	RoleDirector: 2,
	RoleCEO:      3,
	RoleHuman:    4,
}

// AtLeast reports whether r outranks or equals min in the management
// hierarchy; a human actor always qualifies regardless of rank.
func (r Role) AtLeast(min Role) bool {
	if r == RoleHuman {
		return true
	}
	return roleRank[r] >= roleRank[min]
}

// Project is work/projects/<pid>/project.yaml.
type Project struct {
	SchemaVersion int         `yaml:"schema_version"`
	ID            string      `yaml:"id"`
	Name          string      `yaml:"name"`
	TeamID        string      `yaml:"team_id,omitempty"`
	Budget        *ProjectBudget `yaml:"budget,omitempty"`
}

// ProjectBudget caps spend for a project. The run monitor counts a run
// as budget-exceeded once its cost crosses HardCostUSD; SoftCostUSD is
// stored but not read by any aggregator.
type ProjectBudget struct {
	HardCostUSD float64 `yaml:"hard_cost_usd,omitempty"`
	SoftCostUSD float64 `yaml:"soft_cost_usd,omitempty"`
}

// Visibility controls who may read an entity.
type Visibility string

const (
	VisibilityPrivateAgent Visibility = "private_agent"
	VisibilityTeam         Visibility = "team"
	VisibilityManagers     Visibility = "managers"
	VisibilityOrg          Visibility = "org"
)

// Sensitivity gates restricted content behind elevated roles.
type Sensitivity string

const (
	SensitivityPublic     Sensitivity = "public"
	SensitivityInternal   Sensitivity = "internal"
	SensitivityRestricted Sensitivity = "restricted"
)

// RunStatus is the monotone status machine a run's lifecycle follows.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunEnded   RunStatus = "ended"
	RunFailed  RunStatus = "failed"
	RunStopped RunStatus = "stopped"
)

// runStatusOrder assigns a monotonicity rank so transitions can be checked.
var runStatusOrder = map[RunStatus]int{
	RunRunning: 0,
	RunEnded:   1,
	RunFailed:  1,
	RunStopped: 1,
}

// CanTransition reports whether moving from s to next respects the
// monotone status machine (running -> terminal, terminal is sticky).
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s == next {
		return true
	}
	return runStatusOrder[s] < runStatusOrder[next]
}

func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// RunSpec describes how a run was launched.
type RunSpec struct {
	Kind             string `yaml:"kind"`
	WorktreeRelpath  string `yaml:"worktree_relpath,omitempty"`
	WorktreeBranch   string `yaml:"worktree_branch,omitempty"`
	TaskID           string `yaml:"task_id,omitempty"`
	StdinRelpath     string `yaml:"stdin_relpath,omitempty"`
}

// UsageSource distinguishes provider-reported usage from our own estimate.
type UsageSource string

const (
	UsageProviderReported UsageSource = "provider_reported"
	UsageEstimatedChars   UsageSource = "estimated_chars"
)

// Usage captures token/cost accounting for a run.
type Usage struct {
	Source           UsageSource `yaml:"source"`
	Confidence       float64     `yaml:"confidence"`
	InputTokens      int         `yaml:"input_tokens"`
	OutputTokens     int         `yaml:"output_tokens"`
	TotalTokens      int         `yaml:"total_tokens"`
	CostUSD          *float64    `yaml:"cost_usd,omitempty"`
}

// Run is work/projects/<pid>/runs/<rid>/run.yaml.
type Run struct {
	SchemaVersion int       `yaml:"schema_version"`
	RunID         string    `yaml:"run_id"`
	ProjectID     string    `yaml:"project_id"`
	AgentID       string    `yaml:"agent_id"`
	Provider      string    `yaml:"provider"`
	CreatedAt     time.Time `yaml:"created_at"`
	Status        RunStatus `yaml:"status"`
	Spec          RunSpec   `yaml:"spec"`
	Usage         *Usage    `yaml:"usage,omitempty"`
}

// MilestoneKind constrains the evidence requirements a milestone defaults to.
type MilestoneKind string

const (
	MilestoneCoding   MilestoneKind = "coding"
	MilestoneResearch MilestoneKind = "research"
	MilestonePlanning MilestoneKind = "planning"
)

type MilestoneStatus string

const (
	MilestonePending MilestoneStatus = "pending"
	MilestoneActive  MilestoneStatus = "active"
	MilestoneDone    MilestoneStatus = "done"
)

// MilestoneEvidence records which evidence kinds a milestone requires
// before approval.
type MilestoneEvidence struct {
	RequiresPatch bool `yaml:"requires_patch"`
	RequiresTests bool `yaml:"requires_tests"`
}

type Milestone struct {
	ID                string            `yaml:"id"`
	Title             string            `yaml:"title"`
	Kind              MilestoneKind     `yaml:"kind"`
	Status            MilestoneStatus   `yaml:"status"`
	AcceptanceCriteria []string         `yaml:"acceptance_criteria"`
	Evidence          MilestoneEvidence `yaml:"evidence"`
}

// DefaultEvidence fills evidence defaults: coding milestones require both
// a patch and tests unless explicitly overridden.
func (m *Milestone) DefaultEvidence() {
	if m.Kind == MilestoneCoding {
		m.Evidence.RequiresPatch = true
		m.Evidence.RequiresTests = true
	}
}

type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskCanceled   TaskStatus = "canceled"
)

type TaskSchedule struct {
	PlannedStart    *time.Time `yaml:"planned_start,omitempty"`
	PlannedEnd      *time.Time `yaml:"planned_end,omitempty"`
	DurationDays    float64    `yaml:"duration_days,omitempty"`
	DependsOnTaskIDs []string  `yaml:"depends_on_task_ids,omitempty"`
}

type TaskBudget struct {
	MaxCostUSD float64 `yaml:"max_cost_usd,omitempty"`
}

// TaskFrontmatter is the YAML frontmatter of a task markdown file.
type TaskFrontmatter struct {
	SchemaVersion      int         `yaml:"schema_version"`
	ID                 string      `yaml:"id"`
	ProjectID          string      `yaml:"project_id"`
	Title              string      `yaml:"title"`
	Status             TaskStatus  `yaml:"status"`
	Visibility         Visibility  `yaml:"visibility"`
	TeamID             string      `yaml:"team_id,omitempty"`
	AssigneeAgentID    string      `yaml:"assignee_agent_id,omitempty"`
	Milestones         []Milestone `yaml:"milestones"`
	Schedule           TaskSchedule `yaml:"schedule"`
	ExecutionPlan      string      `yaml:"execution_plan,omitempty"`
	Budget             *TaskBudget `yaml:"budget,omitempty"`
	Deliverables       []string    `yaml:"deliverables,omitempty"`
	AcceptanceCriteria []string    `yaml:"acceptance_criteria,omitempty"`
}

// Task combines parsed frontmatter with the markdown body.
type Task struct {
	TaskFrontmatter `yaml:",inline"`
	Body            string `yaml:"-"`
}

// ArtifactType enumerates the discriminated union of artifact kinds.
type ArtifactType string

const (
	ArtifactProposal               ArtifactType = "proposal"
	ArtifactMemoryDelta            ArtifactType = "memory_delta"
	ArtifactMilestoneReport        ArtifactType = "milestone_report"
	ArtifactHeartbeatActionProposal ArtifactType = "heartbeat_action_proposal"
)

type ScopeKind string

const (
	ScopeProjectMemory  ScopeKind = "project_memory"
	ScopeAgentGuidance  ScopeKind = "agent_guidance"
)

// EvidenceItem references a run/artifact that backs a claim (memory delta
// rationale, milestone completion).
type EvidenceItem struct {
	Kind       string `yaml:"kind"`
	ArtifactID string `yaml:"artifact_id,omitempty"`
	RunID      string `yaml:"run_id,omitempty"`
	Note       string `yaml:"note,omitempty"`
}

// ArtifactFrontmatter is the common frontmatter every artifact carries,
// plus type-specific extensions captured in the Extra map for fields this
// struct doesn't need to interpret directly.
type ArtifactFrontmatter struct {
	SchemaVersion   int          `yaml:"schema_version"`
	Type            ArtifactType `yaml:"type"`
	ID              string       `yaml:"id"`
	Title           string       `yaml:"title"`
	CreatedAt       time.Time    `yaml:"created_at"`
	Visibility      Visibility   `yaml:"visibility"`
	ProducedBy      string       `yaml:"produced_by"`
	RunID           string       `yaml:"run_id"`
	ContextPackID   string       `yaml:"context_pack_id,omitempty"`
	ProjectID       string       `yaml:"project_id"`

	// memory_delta fields
	TargetFile  string      `yaml:"target_file,omitempty"`
	PatchFile   string      `yaml:"patch_file,omitempty"`
	ScopeKind   ScopeKind   `yaml:"scope_kind,omitempty"`
	ScopeRef    string      `yaml:"scope_ref,omitempty"`
	Sensitivity Sensitivity `yaml:"sensitivity,omitempty"`
	Rationale   string      `yaml:"rationale,omitempty"`
	Evidence    []EvidenceItem `yaml:"evidence,omitempty"`
	UnderHeading string     `yaml:"under_heading,omitempty"`
	InsertLines []string    `yaml:"insert_lines,omitempty"`

	// milestone_report fields
	TaskID         string         `yaml:"task_id,omitempty"`
	MilestoneID    string         `yaml:"milestone_id,omitempty"`
	TestsArtifacts []EvidenceItem `yaml:"tests_artifacts,omitempty"`

	// heartbeat_action_proposal fields
	Action map[string]any `yaml:"action,omitempty"`
}

type Artifact struct {
	ArtifactFrontmatter `yaml:",inline"`
	Body                string `yaml:"-"`
}

// ReviewDecision is the outcome recorded in inbox/reviews/<rev_id>.yaml.
type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionDenied   ReviewDecision = "denied"
)

type ReviewSubject struct {
	Kind       string `yaml:"kind"`
	ArtifactID string `yaml:"artifact_id,omitempty"`
}

// Review is an append-only record under inbox/reviews/.
type Review struct {
	ID        string         `yaml:"id"`
	CreatedAt time.Time      `yaml:"created_at"`
	ActorID   string         `yaml:"actor_id"`
	ActorRole Role           `yaml:"actor_role"`
	Decision  ReviewDecision `yaml:"decision"`
	Subject   ReviewSubject  `yaml:"subject"`
	Policy    map[string]any `yaml:"policy,omitempty"`
	Notes     string         `yaml:"notes,omitempty"`
}

// Comment is a single note attached to a project, written by a worker
// action (kind=add_comment) or a human. Append-only, one file per id.
type Comment struct {
	ID         string     `yaml:"id"`
	ProjectID  string     `yaml:"project_id"`
	CreatedAt  time.Time  `yaml:"created_at"`
	AuthorID   string     `yaml:"author_id"`
	Visibility Visibility `yaml:"visibility"`
	TaskID     string     `yaml:"task_id,omitempty"`
	Body       string     `yaml:"body"`
}

// ProviderPricing is the per-provider USD/1k-token rate card.
type ProviderPricing struct {
	Input          float64 `yaml:"input"`
	CachedInput    float64 `yaml:"cached_input,omitempty"`
	Output         float64 `yaml:"output"`
	ReasoningOutput float64 `yaml:"reasoning_output,omitempty"`
}

// MachineConfig is .local/machine.yaml: machine-local settings never
// checked in alongside the rest of the workspace.
type MachineConfig struct {
	ProviderBins            map[string]string          `yaml:"provider_bins"`
	RepoRoots               map[string]string          `yaml:"repo_roots"`
	ProviderPricingUSDPer1K map[string]ProviderPricing `yaml:"provider_pricing_usd_per_1k_tokens"`
}
