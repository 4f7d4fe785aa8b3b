// Package logx is pricebot's logging layer on top of zerolog.
//
// Console output is human readable with a file:line caller. The optional log
// file holds JSON lines. Warnings and errors can also be forwarded to the
// group log chat, rate limited and never blocking the caller.
package logx
