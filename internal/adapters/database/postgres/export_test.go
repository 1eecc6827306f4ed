package postgres

var PendingQuery = pendingQuery
