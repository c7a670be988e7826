package setting

// Conditions are the optimistic concurrency preconditions of a request.
// Either field may be "*" to match any existing entity.
type Conditions struct {
	IfMatch     string
	IfNoneMatch string
}

// Any is the wildcard entity tag.
const Any = "*"

type mutation int

const (
	mutationPut mutation = iota
	mutationDelete
	mutationLock
)

// checkMutation applies the preconditions to a mutation of existing (nil
// when absent). Checks run in fixed order: existence, read-only lock, ETag.
func checkMutation(existing *Setting, cond Conditions, m mutation, key string, label *string) error {
	if existing == nil {
		if cond.IfMatch != "" {
			return PreconditionFailed("setting %q label %q does not exist", key, labelString(label))
		}
		if m == mutationLock {
			return NotFound("setting %q label %q not found", key, labelString(label))
		}
		return nil
	}
	if cond.IfNoneMatch == Any {
		return PreconditionFailed("setting %q label %q already exists", key, labelString(label))
	}

	if existing.ReadOnly && m != mutationLock {
		return Conflict("setting %q label %q is read-only", key, labelString(label))
	}

	if !etagMatches(cond.IfMatch, existing.ETag, true) {
		return PreconditionFailed("if-match %q does not match current etag", cond.IfMatch)
	}
	if cond.IfNoneMatch != "" && etagMatches(cond.IfNoneMatch, existing.ETag, false) {
		return PreconditionFailed("if-none-match %q matches current etag", cond.IfNoneMatch)
	}
	return nil
}

// checkRead applies If-None-Match to a resolved read.
func checkRead(resolved *Setting, ifNoneMatch string) error {
	if ifNoneMatch != "" && etagMatches(ifNoneMatch, resolved.ETag, false) {
		return ErrNotModified
	}
	return nil
}

// etagMatches compares a condition token with an entity tag. An empty token
// yields emptyResult.
func etagMatches(token, etag string, emptyResult bool) bool {
	switch token {
	case "":
		return emptyResult
	case Any:
		return true
	}
	return token == etag
}
