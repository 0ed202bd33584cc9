// Package delivery fans finished artifacts out to a task's destinations:
// rendering per destination format, chunking long content without breaking
// atomic blocks, rate-limited gateway posts, and webhook POSTs. Delivery
// failures are recorded per destination and never fail the task itself.
package delivery
