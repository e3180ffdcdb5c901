// Package clarification implements the question/answer discipline between
// agents and the human.
//
// At most one surfaced set of requests is visible at a time; excess
// requests buffer in arrival order and surface strictly FIFO as answers
// come in. Before a question reaches the user it is checked against the
// question history; a sufficiently confident prior answer is reused
// without surfacing anything. No request is ever silently dropped.
package clarification
