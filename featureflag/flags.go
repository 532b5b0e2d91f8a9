package featureflag

type Flag string

const (
	FlagDisableEventStream     Flag = "DISABLE_EVENT_STREAM"
	FlagDisableEventForwarding Flag = "DISABLE_EVENT_FORWARDING"
	FlagDisableRasterTrace     Flag = "DISABLE_RASTER_TRACE"
)
