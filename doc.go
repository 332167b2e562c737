/*
Package ticktree is a behavior-tree runtime compatible with the BTCPP-4
XML format: declarative trees parsed into a hierarchy of executable
nodes wired to a hierarchical blackboard, ticked cooperatively until
each tick yields a terminal verdict.

# Building and ticking a tree

	factory := ticktree.NewFactory()
	err := factory.RegisterSimpleAction("SaySomething",
		func(ctx context.Context, n *ticktree.Node) (ticktree.Status, error) {
			msg, err := ticktree.InputValue[string](n, "message")
			if err != nil {
				return ticktree.Failure, err
			}
			fmt.Println(msg)
			return ticktree.Success, nil
		},
		ticktree.Input[string]("message", "what to say"),
	)
	// handle err ...
	tree, err := factory.CreateTreeFromXML(`
	  <root BTCPP_format="4">
	    <BehaviorTree ID="Main">
	      <Sequence>
	        <SaySomething message="hello"/>
	        <SaySomething message="{answer}"/>
	      </Sequence>
	    </BehaviorTree>
	  </root>`)
	// handle err ...
	status, err := tree.TickWhileRunning(ctx)

# Execution model

Scheduling is single-threaded and cooperative: one tick traversal runs
to completion, children tick in declared order, and Running is the
explicit suspension marker nodes use to resume next tick. Timing
behaviors (Timeout, Delay, Sleep) store absolute deadlines computed
from the injected Runtime, never wall-clock reads, so tests drive them
with a VirtualRuntime.

Halting a Running node halts its children first, depth-first and
left-to-right, releases pending deadlines, and resets internal
counters.

# Blackboard and ports

Nodes of one tree share blackboard scopes; each <SubTree> reference
opens a new scope connected to its parent through explicit remappings
(attribute syntax "{key}", the "{=}" shorthand, or plain literals).
Ports declare a node's I/O and bind to blackboard keys at build time.

The type registry (package value), scripting dialect (package script),
and the store itself (package blackboard) are separate packages; this
package ties them to the node lifecycle, the built-in behavior set,
and the XML factory pipeline.
*/
package ticktree
