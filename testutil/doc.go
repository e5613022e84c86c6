/*
Package testutil provides shared helpers for imagerelay tests.

# Overview

  - Contexts: TestContext / TestContextWithTimeout / CancelledContext,
    canceled automatically through t.Cleanup.
  - Polling assertions: AssertEventuallyTrue / WaitFor.
  - JSON: MustJSON / MustParseJSON.
  - ScriptedServer: an httptest server that replays scripted provider
    replies (image bytes, 503 warm-up bodies, error statuses) and records
    every request it receives.

# Sub-packages

  - testutil/mocks: MockProvider, a scripted imagegen.Provider.
  - testutil/fixtures: canned PNG and JPEG payloads.
*/
package testutil
