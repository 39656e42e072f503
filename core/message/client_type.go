package message

// ClientType 客户端平台
type ClientType int32

const (
	WebApi  ClientType = 0
	Web     ClientType = 1
	IOS     ClientType = 2
	Android ClientType = 3
	Windows ClientType = 4
	Mac     ClientType = 5
)

// DeviceClass 多端登录判定使用的设备大类
type DeviceClass int

const (
	ClassUnknown DeviceClass = iota
	ClassWeb
	ClassMobile
	ClassDesktop
)

func (t ClientType) Class() DeviceClass {
	switch t {
	case WebApi, Web:
		return ClassWeb
	case IOS, Android:
		return ClassMobile
	case Windows, Mac:
		return ClassDesktop
	default:
		return ClassUnknown
	}
}

func (t ClientType) IsWeb() bool {
	return t.Class() == ClassWeb
}

func (t ClientType) Valid() bool {
	return t >= WebApi && t <= Mac
}

// ConnectState 会话在线状态
type ConnectState int

const (
	Online  ConnectState = 1
	Offline ConnectState = 2
)

// Encoding 报文体编码方式
type Encoding int32

const (
	EncodingJSON     Encoding = 0
	EncodingProtobuf Encoding = 1
	EncodingXML      Encoding = 2
)

func (e Encoding) Declared() bool {
	return e == EncodingJSON || e == EncodingProtobuf || e == EncodingXML
}
