/*
Package compiler runs the end-to-end build of the utility stylesheet.

One Run walks a fixed sequence of stages, each fatal on failure:

	pull-versions -> pull-settings -> pull-config -> scan-content
	    -> dependency-resolution -> compile -> persist

Versions, settings and the workspace are memoized for the lifetime of the
Orchestrator and refetched only after Invalidate. Every failure is reported
as a *types.StageError naming the stage that failed.
*/
package compiler
