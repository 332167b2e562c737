package ticktree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceAllSuccess(t *testing.T) {
	t.Parallel()

	a, _ := leafNode(t, Success)
	b, _ := leafNode(t, Success)
	seq := newTestNode(t, ControlKind, &Sequence{}, a, b)

	st, err := seq.ExecuteTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Success, st)
}

// Left-to-right completeness: the sequence succeeds iff every child
// succeeds, independent of where the failure sits.
func TestSequenceVerdictTable(t *testing.T) {
	t.Parallel()

	cases := [][]Status{
		{Success, Success, Success},
		{Failure, Success, Success},
		{Success, Failure, Success},
		{Success, Success, Failure},
		{Failure, Failure, Failure},
	}
	for _, verdicts := range cases {
		children := make([]*Node, len(verdicts))
		for i, v := range verdicts {
			children[i], _ = leafNode(t, v)
		}
		seq := newTestNode(t, ControlKind, &Sequence{}, children...)
		st, err := seq.ExecuteTick(context.Background())
		require.NoError(t, err)
		want := Success
		for _, v := range verdicts {
			if v == Failure {
				want = Failure
				break
			}
		}
		assert.Equal(t, want, st, "verdicts %v", verdicts)
	}
}

func TestSequenceResumesAtRunningChild(t *testing.T) {
	t.Parallel()

	first, mFirst := leafNode(t, Success)
	second, _ := leafNode(t, Running, Success)
	seq := newTestNode(t, ControlKind, &Sequence{}, first, second)

	ctx := context.Background()
	st, err := seq.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)

	st, err = seq.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	// The first child is not re-ticked while the second is running.
	assert.Equal(t, 1, mFirst.ticks)
}

func TestSequenceFailureResetsIndex(t *testing.T) {
	t.Parallel()

	first, mFirst := leafNode(t, Success)
	second, _ := leafNode(t, Failure, Success)
	seq := newTestNode(t, ControlKind, &Sequence{}, first, second)

	ctx := context.Background()
	st, err := seq.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Failure, st)

	// The next activation restarts from the first child.
	st, err = seq.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	assert.Equal(t, 2, mFirst.ticks)
}

func TestSequenceWithMemoryKeepsIndexAcrossFailure(t *testing.T) {
	t.Parallel()

	first, mFirst := leafNode(t, Success)
	second, _ := leafNode(t, Failure, Success)
	seq := newTestNode(t, ControlKind, &SequenceWithMemory{}, first, second)

	ctx := context.Background()
	st, err := seq.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Failure, st)

	// The failed child is retried without re-running the first.
	st, err = seq.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	assert.Equal(t, 1, mFirst.ticks)

	// A completed run resets the index.
	st, err = seq.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	assert.Equal(t, 2, mFirst.ticks)
}

func TestReactiveSequenceRestartsFromZero(t *testing.T) {
	t.Parallel()

	cond, mCond := leafNode(t, Success)
	long, _ := leafNode(t, Running, Running, Success)
	seq := newTestNode(t, ControlKind, &ReactiveSequence{}, cond, long)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		st, err := seq.ExecuteTick(ctx)
		require.NoError(t, err)
		require.Equal(t, Running, st)
	}
	st, err := seq.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	// The condition is re-ticked on every traversal.
	assert.Equal(t, 3, mCond.ticks)
}

func TestReactiveSequencePreemptsOnConditionFlip(t *testing.T) {
	t.Parallel()

	cond, _ := leafNode(t, Success, Failure)
	long, mLong := leafNode(t, Running)
	seq := newTestNode(t, ControlKind, &ReactiveSequence{}, cond, long)

	ctx := context.Background()
	st, err := seq.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)

	st, err = seq.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Failure, st)
	assert.Equal(t, 1, mLong.halts)
	assert.Equal(t, Idle, long.State())
}

// A Running child halts everything after it, so no two children are
// ever simultaneously Running.
func TestReactiveSequenceSingleRunningChild(t *testing.T) {
	t.Parallel()

	first, _ := leafNode(t, Running, Success)
	second, mSecond := leafNode(t, Running)
	seq := newTestNode(t, ControlKind, &ReactiveSequence{}, first, second)

	ctx := context.Background()
	st, err := seq.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)
	assert.Equal(t, 0, mSecond.ticks)

	st, err = seq.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)

	running := 0
	for _, c := range seq.Children() {
		if c.State() == Running {
			running++
		}
	}
	assert.LessOrEqual(t, running, 1)
}

func TestFallbackShortCircuitsOnSuccess(t *testing.T) {
	t.Parallel()

	a, _ := leafNode(t, Failure)
	b, _ := leafNode(t, Success)
	c, mC := leafNode(t, Success)
	fb := newTestNode(t, ControlKind, &Fallback{}, a, b, c)

	st, err := fb.ExecuteTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	assert.Equal(t, 0, mC.ticks)
}

func TestFallbackAllFailures(t *testing.T) {
	t.Parallel()

	a, _ := leafNode(t, Failure)
	b, _ := leafNode(t, Failure)
	fb := newTestNode(t, ControlKind, &Fallback{}, a, b)

	st, err := fb.ExecuteTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failure, st)
}

func TestReactiveFallbackPreemptsWhenEarlierChildSucceeds(t *testing.T) {
	t.Parallel()

	retry, _ := leafNode(t, Failure, Success)
	long, mLong := leafNode(t, Running)
	fb := newTestNode(t, ControlKind, &ReactiveFallback{}, retry, long)

	ctx := context.Background()
	st, err := fb.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)

	st, err = fb.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	assert.Equal(t, 1, mLong.halts)
}

// The parallel verdict depends only on the multiset of child verdicts
// and the thresholds, not on how many ticks each child needed.
func TestParallelVerdicts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		successCount string
		failureCount string
		children     [][]Status
		want         Status
	}{
		{
			name:         "all succeed with defaults",
			successCount: "-1", failureCount: "1",
			children: [][]Status{{Success}, {Running, Success}, {Success}},
			want:     Success,
		},
		{
			name:         "single failure fails by default",
			successCount: "-1", failureCount: "1",
			children: [][]Status{{Success}, {Running, Failure}, {Running, Running, Success}},
			want:     Failure,
		},
		{
			name:         "two of three suffice",
			successCount: "2", failureCount: "3",
			children: [][]Status{{Success}, {Running, Success}, {Running, Running, Running}},
			want:     Success,
		},
		{
			name:         "threshold unreachable resolves failure",
			successCount: "3", failureCount: "3",
			children: [][]Status{{Success}, {Failure}, {Success}},
			want:     Failure,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			children := make([]*Node, len(tc.children))
			for i, script := range tc.children {
				children[i], _ = leafNode(t, script...)
			}
			par := newTestNode(t, ControlKind, &Parallel{}, children...)
			setPortLiteral(t, par, "success_count", tc.successCount)
			setPortLiteral(t, par, "failure_count", tc.failureCount)
			assert.Equal(t, tc.want, tickUntilTerminal(t, par))
		})
	}
}

func TestParallelHaltsRunningChildrenOnResolve(t *testing.T) {
	t.Parallel()

	quick, _ := leafNode(t, Failure)
	slow, mSlow := leafNode(t, Running)
	par := newTestNode(t, ControlKind, &Parallel{}, quick, slow)
	setPortLiteral(t, par, "success_count", "-1")
	setPortLiteral(t, par, "failure_count", "1")

	st, err := par.ExecuteTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Failure, st)
	assert.Equal(t, 1, mSlow.halts)
	assert.Equal(t, Idle, slow.State())
}

func TestParallelCompletedChildrenAreNotReticked(t *testing.T) {
	t.Parallel()

	quick, mQuick := leafNode(t, Success)
	slow, _ := leafNode(t, Running, Running, Success)
	par := newTestNode(t, ControlKind, &Parallel{}, quick, slow)

	assert.Equal(t, Success, tickUntilTerminal(t, par))
	assert.Equal(t, 1, mQuick.ticks)
}

func TestParallelAllWaitsForEveryChild(t *testing.T) {
	t.Parallel()

	fast, _ := leafNode(t, Failure)
	slow, _ := leafNode(t, Running, Success)
	par := newTestNode(t, ControlKind, &ParallelAll{}, fast, slow)

	// The early failure does not resolve the node; all children finish
	// first, then any failure loses.
	assert.Equal(t, Failure, tickUntilTerminal(t, par))
	assert.Equal(t, Success, slow.State())
}

func TestIfThenElse(t *testing.T) {
	t.Parallel()

	t.Run("then branch", func(t *testing.T) {
		t.Parallel()
		cond, _ := leafNode(t, Success)
		then, mThen := leafNode(t, Success)
		els, mEls := leafNode(t, Failure)
		node := newTestNode(t, ControlKind, &IfThenElse{}, cond, then, els)
		assert.Equal(t, Success, tickUntilTerminal(t, node))
		assert.Equal(t, 1, mThen.ticks)
		assert.Equal(t, 0, mEls.ticks)
	})

	t.Run("else branch", func(t *testing.T) {
		t.Parallel()
		cond, _ := leafNode(t, Failure)
		then, mThen := leafNode(t, Success)
		els, mEls := leafNode(t, Failure)
		node := newTestNode(t, ControlKind, &IfThenElse{}, cond, then, els)
		assert.Equal(t, Failure, tickUntilTerminal(t, node))
		assert.Equal(t, 0, mThen.ticks)
		assert.Equal(t, 1, mEls.ticks)
	})

	t.Run("two children and failing condition", func(t *testing.T) {
		t.Parallel()
		cond, _ := leafNode(t, Failure)
		then, _ := leafNode(t, Success)
		node := newTestNode(t, ControlKind, &IfThenElse{}, cond, then)
		assert.Equal(t, Failure, tickUntilTerminal(t, node))
	})
}

func TestWhileDoElsePreemptsOnConditionFlip(t *testing.T) {
	t.Parallel()

	cond, _ := leafNode(t, Success, Failure)
	do, mDo := leafNode(t, Running)
	els, mEls := leafNode(t, Success)
	node := newTestNode(t, ControlKind, &WhileDoElse{}, cond, do, els)

	ctx := context.Background()
	st, err := node.ExecuteTick(ctx)
	require.NoError(t, err)
	require.Equal(t, Running, st)
	require.Equal(t, 1, mDo.ticks)

	// Condition flips: the running do-branch is halted, else runs.
	st, err = node.ExecuteTick(ctx)
	require.NoError(t, err)
	assert.Equal(t, Success, st)
	assert.Equal(t, 1, mDo.halts)
	assert.Equal(t, 1, mEls.ticks)
}

func TestChildCountValidation(t *testing.T) {
	t.Parallel()

	require.Error(t, validateChildCount(DecoratorKind, Inverter{}, 2))
	require.Error(t, validateChildCount(ControlKind, &Sequence{}, 0))
	require.Error(t, validateChildCount(ActionKind, AlwaysSuccess{}, 1))
	require.NoError(t, validateChildCount(ControlKind, &IfThenElse{}, 2))
	require.NoError(t, validateChildCount(ControlKind, &IfThenElse{}, 3))
	require.Error(t, validateChildCount(ControlKind, &IfThenElse{}, 4))
	require.Error(t, validateChildCount(ControlKind, NewSwitch(2), 2))
	require.NoError(t, validateChildCount(ControlKind, NewSwitch(2), 3))
}
