// Package text provides the plain text content type: a UTF-8 codec and a
// processor caching every text message in conversation and send-time order.
package text
