package redis

const ns = "karcis:v1"

func ChannelOrdersChanged() string {
	return ns + ":orders:changed"
}
