// Package health answers the liveness and readiness probes.
//
// A [Probe] is anything with Check(ctx). [Fixed], [All], [Named] and
// [Timeout] compose them, so readiness can require the shutdown gate, a
// loaded policy and a responsive visitor store, with the failing dependency
// named in the 503 body.
//
// [ShutdownGate] fails readiness as soon as shutdown starts so the load
// balancer drains the target before in-flight submissions finish.
package health
