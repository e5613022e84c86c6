/*
Package imagegen acquires one usable image for a text prompt or a source
image from a set of unreliable, differently shaped image providers.

# Overview

An Acquirer walks its providers in ascending priority order. Each provider
is called through the retry controller, which retries only transient
failures ("model loading", rate limited) and honours the provider's wait
hint. The first success short-circuits the chain; when every provider has
failed the caller receives an AcquisitionError that lists one AttemptRecord
per configured provider, in order.

# Providers

  - HuggingFaceProvider: inference API, bearer token, binary reply; supports
    image edits by sending the source image as a data URL.
  - PollinationsProvider: keyless GET endpoint, binary reply, text only.
  - UnsplashProvider: photo search followed by a download of the best match.
  - RelayProvider: JSON-wrapped upstream returning { success, imageData }.

Responses of every shape go through Normalize, which turns raw bytes, JSON
envelopes and data URLs into one canonical Image.

# Errors

Provider-level failures are *ProviderError values tagged with a FailureKind.
Terminal failures are *AcquisitionError values: MissingCredential,
AllProvidersExhausted, Transient or Unsupported. Invalid requests wrap
ErrInvalidRequest.
*/
package imagegen
