// Package allowlist gates a wallet allowlist behind Discord and Twitter
// identities and hands out boarding passes to verified members.
//
// Member lifecycle:
//   - Members are seeded out of band with at least one social handle and a
//     project. MemberStage is derived from the record: seeded, linked once both
//     provider ids are stored, verified once a wallet address is bound.
//   - MemberStateMachine owns the transition graph and persistence. Linking and
//     address binding use conditional writes so a verified record is never
//     touched again, even under concurrent submissions.
//
// Workflow:
//   - Service chains the provider calls (see the social package) with store
//     lookups. Upstream failures are collapsed into fixed, user facing messages
//     through UpstreamError.
//   - HTTPController exposes the workflow over go-router and renders domain
//     errors either as soft failures ({success:false,message}) or as 400s.
//
// Activity sinks:
//   - ActivitySink receives workflow events (links, submissions, role grants,
//     rejections). Sinks run best effort; failures are logged and never change
//     the outcome of a request.
package allowlist
