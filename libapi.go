package sparked

import (
	runtimepkg "github.com/drblury/sparked/internal/runtime"
	"github.com/drblury/sparked/internal/runtime/bridge"
	buspkg "github.com/drblury/sparked/internal/runtime/bus"
	clientpkg "github.com/drblury/sparked/internal/runtime/client"
	ce "github.com/drblury/sparked/internal/runtime/cloudevents"
	configpkg "github.com/drblury/sparked/internal/runtime/config"
	"github.com/drblury/sparked/internal/runtime/dispatch"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	idspkg "github.com/drblury/sparked/internal/runtime/ids"
	"github.com/drblury/sparked/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	metricspkg "github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/mutation"
	"github.com/drblury/sparked/internal/runtime/registry"
	storepkg "github.com/drblury/sparked/internal/runtime/store"
	subjectpkg "github.com/drblury/sparked/internal/runtime/subject"
	"github.com/drblury/sparked/transport"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	Bus                = buspkg.Bus
	BusOption          = buspkg.Option
	Envelope           = buspkg.Envelope
	Callback           = buspkg.Callback
	ErrorHandler       = buspkg.ErrorHandler
	CallbackPanicError = buspkg.CallbackPanicError
	RequestOptions     = buspkg.RequestOptions
	ReplyCallback      = buspkg.ReplyCallback
	Registry           = registry.Registry
	SubscriptionInfo   = registry.Info

	Document     = storepkg.Document
	Store        = storepkg.Store
	MemoryStore  = storepkg.Memory
	StoreOptions = storepkg.Options
	UpdateSpec   = mutation.Spec
	Operator     = mutation.Operator

	Router          = dispatch.Router
	RouterOption    = dispatch.RouterOption
	Handler         = dispatch.Handler
	Action          = dispatch.Action
	Route           = dispatch.Route
	Reply           = dispatch.Reply
	ReplyError      = dispatch.ReplyError
	DispatchHooks   = dispatch.Hooks
	DispatchContext = dispatch.DispatchContext

	Service           = runtimepkg.Service
	ServiceOption     = runtimepkg.ServiceOption
	Capability        = runtimepkg.Capability
	SubjectProvider   = runtimepkg.SubjectProvider
	RouterCapability  = runtimepkg.RouterCapability
	ClientsCapability = runtimepkg.ClientsCapability
	BridgeCapability  = runtimepkg.BridgeCapability
	APICapability     = runtimepkg.APICapability
	TransportBuilder  = runtimepkg.TransportBuilder

	Model        = clientpkg.Model
	Controller   = clientpkg.Controller
	ClientOption = clientpkg.Option
	EventHandler = clientpkg.EventHandler

	Bridge       = bridge.Bridge
	BridgeConfig = bridge.Config
	Codec        = bridge.Codec
	Event        = ce.Event

	Transport         = transport.Transport
	TransportConfig   = transport.Config
	TransportRegistry = transport.Registry
	TransportFactory  = transport.Builder

	Metrics         = metricspkg.Metrics
	MetricsSnapshot = metricspkg.Snapshot

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

// Routed actions.
const (
	ActionUnknown = dispatch.ActionUnknown
	ActionCreate  = dispatch.ActionCreate
	ActionDelete  = dispatch.ActionDelete
	ActionFind    = dispatch.ActionFind
	ActionUpdate  = dispatch.ActionUpdate
	ActionCall    = dispatch.ActionCall
	ActionEvent   = dispatch.ActionEvent
)

// Model events delivered to client listeners.
const (
	EventCreated = clientpkg.EventCreated
	EventDeleted = clientpkg.EventDeleted
	EventFound   = clientpkg.EventFound
	EventUpdated = clientpkg.EventUpdated
)

const IDField = storepkg.IDField

var (
	NewBus             = buspkg.New
	WithRegistry       = buspkg.WithRegistry
	WithBusLogger      = buspkg.WithLogger
	WithBusMetrics     = buspkg.WithMetrics
	WithErrorHandler   = buspkg.WithErrorHandler
	NewRegistry        = registry.New
	Matches            = subjectpkg.Matches
	ValidateSubject    = subjectpkg.ValidateSubject
	ValidatePattern    = subjectpkg.ValidatePattern
	JoinSubject        = subjectpkg.Join
	NewInbox           = idspkg.NewInbox
	CreateULID         = idspkg.CreateULID
	NewMemoryStore     = storepkg.NewMemory
	ParseUpdate        = mutation.Parse
	NewRouter          = dispatch.NewRouter
	ParseRoute         = dispatch.ParseRoute
	WithServiceName    = dispatch.WithName
	WithController     = dispatch.WithHandler
	WithControllers    = dispatch.WithHandlers
	WithDispatchHooks  = dispatch.WithHooks
	WithRouterLogger   = dispatch.WithLogger
	WithRouterMetrics  = dispatch.WithMetrics
	WithTracer         = dispatch.WithTracer
	LoggingHooks       = dispatch.LoggingHooks
	MetricsHooks       = dispatch.MetricsHooks
	DecodeReply        = dispatch.DecodeReply
	NewMetrics         = metricspkg.NewMetrics
	NewModel           = clientpkg.New
	NewController      = clientpkg.NewController
	WithRequestTimeout = clientpkg.WithTimeout
	WithClientLogger   = clientpkg.WithLogger

	NewService               = runtimepkg.NewService
	NewServiceFromConfig     = runtimepkg.NewServiceFromConfig
	WithName                 = runtimepkg.WithName
	WithBus                  = runtimepkg.WithBus
	WithLogger               = runtimepkg.WithLogger
	WithMetrics              = runtimepkg.WithMetrics
	WithSubjects             = runtimepkg.WithSubjects
	WithCapabilities         = runtimepkg.WithCapabilities
	WithServiceTimeout       = runtimepkg.WithRequestTimeout
	NewRouterCapability      = runtimepkg.NewRouterCapability
	NewClientsCapability     = runtimepkg.NewClientsCapability
	NewBridgeCapability      = runtimepkg.NewBridgeCapability
	NewAPICapability         = runtimepkg.NewAPICapability
	TransportFromConfig      = runtimepkg.TransportFromConfig
	NewBridge                = bridge.New
	CodecByName              = bridge.CodecByName
	NewCloudEvent            = ce.New
	DecodeCloudEvent         = ce.Decode
	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build

	LoadConfig     = configpkg.Load
	ParseConfig    = configpkg.Parse
	ValidateConfig = configpkg.ValidateConfig

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	ErrInvalidSubject    = errspkg.ErrInvalidSubject
	ErrInvalidPattern    = errspkg.ErrInvalidPattern
	ErrCallbackRequired  = errspkg.ErrCallbackRequired
	ErrBusRequired       = errspkg.ErrBusRequired
	ErrStoreRequired     = errspkg.ErrStoreRequired
	ErrModelRequired     = errspkg.ErrModelRequired
	ErrDuplicateModel    = errspkg.ErrDuplicateModel
	ErrUnknownModel      = errspkg.ErrUnknownModel
	ErrUnknownAction     = errspkg.ErrUnknownAction
	ErrUnknownController = errspkg.ErrUnknownController
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrInvalidMessage    = errspkg.ErrInvalidMessage
	ErrRequestTimeout    = errspkg.ErrRequestTimeout
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrTransportRequired = errspkg.ErrTransportRequired
	ErrReplyError        = errspkg.ErrReplyError
)
