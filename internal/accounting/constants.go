package accounting

// BatchFlushThreshold is the number of records that triggers an immediate
// flush. When the batch reaches this size, it's written to storage without
// waiting for the timer.
const BatchFlushThreshold = 100
