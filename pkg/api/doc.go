/*
Package api serves the engine over HTTP using echo.

	GET    /resources[?kind=]        list projected resources
	POST   /resources                declare a resource
	GET    /resources/:id            one projected resource
	PUT    /resources/:id            merge a spec change
	DELETE /resources/:id            request deletion
	POST   /resources/:id/:action    start, stop, restart or retry
	GET    /dashboard/stats          counts and declared capacity
	GET    /events                   server-sent event stream
	GET    /health, /ready, /metrics

Mutations record intent and return 202 with the projection right away; they
never wait for the cluster to converge. They fail only on malformed input
(400), an unknown id (404) or a conflicting record state such as a change to
a resource being deleted (409). On a Raft follower writes answer 503 and name
the leader.

Errors are returned as {"error": "...", "field": "..."}.
*/
package api
