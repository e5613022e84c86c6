/*
Package metrics exports Prometheus metrics for the HTTP surface, image
acquisitions, individual providers, the relay and the failure journal.

Collector registers its vectors through promauto under one namespace.
Status codes are bucketed into 2xx/3xx/4xx/5xx. Collector implements
imagegen.Recorder, so the acquirer reports provider outcomes, retries and
fallbacks to it directly.
*/
package metrics
