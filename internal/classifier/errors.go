package classifier

import (
	"net/http"

	"github.com/Abraxas-365/inboxcore/pkg/errx"
)

var classifierErrors = errx.NewRegistry("CLASSIFIER")

var (
	ErrProviderCall = classifierErrors.Register(
		"PROVIDER_CALL_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"the LLM provider call failed",
	)

	// ErrMalformed covers every way the model can fail to honor the
	// requested schema: empty message, invalid JSON, a missing or
	// out-of-range importance score, an empty short_summary, or keypoints
	// of the wrong shape. A topic outside the candidate set is not an
	// error; it falls back to the default category.
	ErrMalformed = classifierErrors.Register(
		"MALFORMED_RESPONSE",
		errx.TypeExternal,
		http.StatusBadGateway,
		"the classifier response did not match the expected shape",
	)
)
