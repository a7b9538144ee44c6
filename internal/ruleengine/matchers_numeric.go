package ruleengine

// DataType tells numeric matchers how to interpret operands.
type DataType int

const (
	DataTypeNumber DataType = iota
	// DataTypeDatetime operands are epoch milliseconds.
	DataTypeDatetime
)

const (
	msPerMinute = int64(60_000)
	msPerDay    = int64(86_400_000)
)

// EqualToMatcher matches numbers equal to Value. Datetimes compare by UTC day.
type EqualToMatcher struct {
	DataType DataType
	Value    int64
}

func (m *EqualToMatcher) Match(v Value, _ *Context) bool {
	n, ok := numericOperand(v, m.DataType)
	if !ok {
		return false
	}
	if m.DataType == DataTypeDatetime {
		return floorTo(n, msPerDay) == floorTo(m.Value, msPerDay)
	}
	return n == m.Value
}

// GreaterOrEqualMatcher matches numbers >= Value. Datetimes compare by minute.
type GreaterOrEqualMatcher struct {
	DataType DataType
	Value    int64
}

func (m *GreaterOrEqualMatcher) Match(v Value, _ *Context) bool {
	n, ok := numericOperand(v, m.DataType)
	if !ok {
		return false
	}
	return normalize(n, m.DataType) >= normalize(m.Value, m.DataType)
}

// LessOrEqualMatcher matches numbers <= Value. Datetimes compare by minute.
type LessOrEqualMatcher struct {
	DataType DataType
	Value    int64
}

func (m *LessOrEqualMatcher) Match(v Value, _ *Context) bool {
	n, ok := numericOperand(v, m.DataType)
	if !ok {
		return false
	}
	return normalize(n, m.DataType) <= normalize(m.Value, m.DataType)
}

// BetweenMatcher matches numbers in the inclusive range [Start, End].
type BetweenMatcher struct {
	DataType DataType
	Start    int64
	End      int64
}

func (m *BetweenMatcher) Match(v Value, _ *Context) bool {
	n, ok := numericOperand(v, m.DataType)
	if !ok {
		return false
	}
	n = normalize(n, m.DataType)
	return n >= normalize(m.Start, m.DataType) && n <= normalize(m.End, m.DataType)
}

// numericOperand extracts a number. Numbers only accept integers; datetimes
// accept dates and integers holding epoch milliseconds.
func numericOperand(v Value, dt DataType) (int64, bool) {
	switch v.Kind() {
	case KindInt:
		return v.i, true
	case KindDate:
		return v.i, dt == DataTypeDatetime
	default:
		return 0, false
	}
}

func normalize(n int64, dt DataType) int64 {
	if dt == DataTypeDatetime {
		return floorTo(n, msPerMinute)
	}
	return n
}

// floorTo truncates n down to a multiple of unit, also for negative values.
func floorTo(n, unit int64) int64 {
	r := n % unit
	if r < 0 {
		r += unit
	}
	return n - r
}
