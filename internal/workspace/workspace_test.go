package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile_ReplacesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.yaml")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(data))

	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0o644))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}

func TestAtomicCreateFile_RefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "once.yaml")

	require.NoError(t, AtomicCreateFile(path, []byte("a"), 0o644))
	err := AtomicCreateFile(path, []byte("b"), 0o644)
	require.Error(t, err)
}

func TestSafeJoin_RejectsEscapes(t *testing.T) {
	root := "/workspace"

	_, err := SafeJoin(root, "/etc/passwd")
	require.Error(t, err)

	_, err = SafeJoin(root, "../../etc/passwd")
	require.Error(t, err)

	p, err := SafeJoin(root, "work/projects/p1/task.md")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "work/projects/p1/task.md"), p)
}

func TestFrontmatterRoundTrip(t *testing.T) {
	type meta struct {
		Type string `yaml:"type"`
		ID   string `yaml:"id"`
	}
	raw, err := RenderFrontmatter(meta{Type: "proposal", ID: "a1"}, "## Contract\nbody text\n")
	require.NoError(t, err)

	var decoded meta
	body, err := ParseFrontmatter(raw, &decoded)
	require.NoError(t, err)
	require.Equal(t, "proposal", decoded.Type)
	require.Contains(t, body, "body text")

	typ, err := FrontmatterType(raw)
	require.NoError(t, err)
	require.Equal(t, "proposal", typ)
}

func TestParseFrontmatter_MissingDelimiter(t *testing.T) {
	_, _, err := SplitFrontmatter([]byte("no frontmatter here"))
	require.Error(t, err)
}

func TestValidateTaskBody_RequiresHeadings(t *testing.T) {
	require.Error(t, ValidateTaskBody("no headings"))
	require.Error(t, ValidateTaskBody("## Contract\nonly one heading"))
	require.NoError(t, ValidateTaskBody("## Contract\ntext\n## Milestones\nmore"))
}

func TestApplyMilestoneAutoPromotion(t *testing.T) {
	task := &Task{TaskFrontmatter: TaskFrontmatter{
		Status: TaskInProgress,
		Milestones: []Milestone{
			{ID: "m1", Status: MilestoneDone},
			{ID: "m2", Status: MilestoneDone},
		},
	}}
	changed := ApplyMilestoneAutoPromotion(task)
	require.True(t, changed)
	require.Equal(t, TaskDone, task.Status)

	task.Milestones[0].Status = MilestoneActive
	changed = ApplyMilestoneAutoPromotion(task)
	require.True(t, changed)
	require.Equal(t, TaskInProgress, task.Status)
}

func TestApplyMilestoneAutoPromotion_CanceledNeverPromotes(t *testing.T) {
	task := &Task{TaskFrontmatter: TaskFrontmatter{
		Status:     TaskCanceled,
		Milestones: []Milestone{{ID: "m1", Status: MilestoneDone}},
	}}
	require.False(t, ApplyMilestoneAutoPromotion(task))
	require.Equal(t, TaskCanceled, task.Status)
}

func TestWriteTask_RejectsMissingHeadings(t *testing.T) {
	ws := New(t.TempDir())
	task := &Task{TaskFrontmatter: TaskFrontmatter{
		ID:        "t1",
		ProjectID: "p1",
		Status:    TaskDraft,
	}, Body: "no headings"}
	err := ws.WriteTask(task)
	require.Error(t, err)
}

func TestTaskRoundTrip(t *testing.T) {
	ws := New(t.TempDir())
	task := &Task{TaskFrontmatter: TaskFrontmatter{
		ID:                 "t1",
		ProjectID:          "p1",
		Title:              "Build the thing",
		Status:             TaskReady,
		Visibility:         VisibilityTeam,
		Deliverables:       []string{"a patch"},
		AcceptanceCriteria: []string{"tests pass"},
		Milestones: []Milestone{
			{ID: "m1", Title: "implement", Kind: MilestoneCoding, Status: MilestonePending},
		},
	}, Body: "## Contract\nDo the work.\n## Milestones\n- m1\n"}

	require.NoError(t, ws.WriteTask(task))

	loaded, err := ws.ReadTask("p1", "t1")
	require.NoError(t, err)
	require.Equal(t, "Build the thing", loaded.Title)
	require.True(t, loaded.Milestones[0].Evidence.RequiresPatch)
	require.True(t, loaded.Milestones[0].Evidence.RequiresTests)
}

func TestRunStatusTransitions(t *testing.T) {
	require.True(t, RunRunning.CanTransition(RunEnded))
	require.True(t, RunRunning.CanTransition(RunFailed))
	require.True(t, RunRunning.CanTransition(RunStopped))
	require.False(t, RunEnded.CanTransition(RunRunning))
	require.False(t, RunFailed.CanTransition(RunEnded))
	require.True(t, RunEnded.CanTransition(RunEnded))
}

func TestWriteRun_RejectsRegression(t *testing.T) {
	ws := New(t.TempDir())
	require.NoError(t, ws.CreateRunDir("p1", "r1"))
	run := &Run{RunID: "r1", ProjectID: "p1", Status: RunEnded, CreatedAt: time.Now()}
	require.NoError(t, ws.WriteRun(run))

	regress := &Run{RunID: "r1", ProjectID: "p1", Status: RunRunning}
	err := ws.WriteRun(regress)
	require.Error(t, err)
}

func TestValidateArtifact_RestrictedForbidsOrgVisibility(t *testing.T) {
	a := &Artifact{ArtifactFrontmatter: ArtifactFrontmatter{
		Type:        ArtifactMemoryDelta,
		Visibility:  VisibilityOrg,
		Sensitivity: SensitivityRestricted,
		Rationale:   "because",
		Evidence:    []EvidenceItem{{Kind: "run", RunID: "r1"}},
	}}
	require.Error(t, ValidateArtifact(a))
}

func TestRoleAtLeast(t *testing.T) {
	require.True(t, RoleDirector.AtLeast(RoleManager))
	require.False(t, RoleManager.AtLeast(RoleDirector))
	require.True(t, RoleHuman.AtLeast(RoleDirector))
	require.True(t, RoleCEO.AtLeast(RoleDirector))
}

func TestReviewAppendOnly(t *testing.T) {
	ws := New(t.TempDir())
	r := &Review{ID: "rev1", CreatedAt: time.Now(), ActorID: "human", ActorRole: RoleHuman, Decision: DecisionApproved}
	require.NoError(t, ws.WriteReview(r))

	dup := &Review{ID: "rev1", CreatedAt: time.Now(), ActorID: "human", ActorRole: RoleHuman, Decision: DecisionDenied}
	err := ws.WriteReview(dup)
	require.Error(t, err)

	loaded, err := ws.ReadReview("rev1")
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, loaded.Decision)
}
