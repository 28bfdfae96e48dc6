package types

// MaxAmount is the largest amount the store can hold. Sqlite integers are
// signed 64-bit, so any amount, reserve or reserve product past 1<<63-1
// cannot round trip through a row; writes that would cross the ceiling
// fail closed with ErrOverflow instead of reaching the driver.
const MaxAmount uint64 = 1<<63 - 1
