// Package relay is a credential-hiding reverse proxy to the Hugging Face
// inference router. Callers never see or supply the token: inbound
// Authorization and X-HF-Token headers are dropped and the server's bearer
// token is attached instead.
package relay
