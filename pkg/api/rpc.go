package api

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/polisproject/polisd/pkg/runtime"
	"github.com/polisproject/polisd/pkg/types"
)

// jsonCodec lets the RPC surface (§4.11's "same operations, structured
// messages") run over plain grpc without a .proto/protoc step: request
// and response messages are the same DTOs dto.go already defines for
// REST, marshaled as "grpc+json" instead of "grpc+proto". Callers
// select it with grpc.CallContentSubtype("json"); grpc-go's server
// dispatches to whichever codec matches the incoming content-subtype
// without any extra server option.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// RPCServer implements the polisd.ContainerAPI grpc service by
// delegating to the same Server (and therefore the same Runtime/
// ImageStore/Auth managers) the REST surface uses — one source of
// truth for both wire protocols, per §4.11 ("same operations").
type RPCServer struct {
	*Server
}

// NewRPCServer builds a *grpc.Server exposing every unary method in
// containerAPIServiceDesc against s.
func NewRPCServer(s *Server) *grpc.Server {
	gs := grpc.NewServer(grpc.UnaryInterceptor(rpcAuthInterceptor(s)))
	gs.RegisterService(&containerAPIServiceDesc, &RPCServer{Server: s})
	return gs
}

// rpcRequiredPerm maps a grpc full method name to the REST permission
// its handler requires. Methods absent from this table would run
// without a token; every method in containerAPIServiceDesc is listed
// here. StreamEvents-shaped read-only exemptions from the
// teacher's interceptor have no analog here since every method below
// is already a single unary call with its own explicit permission.
var rpcRequiredPerm = map[string]string{
	"/polisd.ContainerAPI/CreateContainer": PermContainersWrite,
	"/polisd.ContainerAPI/GetContainer":    PermContainersRead,
	"/polisd.ContainerAPI/ListContainers":  PermContainersRead,
	"/polisd.ContainerAPI/StartContainer":  PermContainersWrite,
	"/polisd.ContainerAPI/StopContainer":   PermContainersWrite,
	"/polisd.ContainerAPI/RemoveContainer": PermContainersDelete,
	"/polisd.ContainerAPI/PullImage":       PermImagesWrite,
	"/polisd.ContainerAPI/ListImages":      PermImagesRead,
}

// rpcAuthInterceptor validates the "authorization" metadata value
// (the same "Bearer <token>" form as the REST header) against perm
// from rpcRequiredPerm, and stashes the resolved session on the
// context for handlers that need the caller's identity.
func rpcAuthInterceptor(s *Server) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		perm, guarded := rpcRequiredPerm[info.FullMethod]
		if !guarded {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		tokens := md.Get("authorization")
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		const prefix = "Bearer "
		token := tokens[0]
		if len(token) > len(prefix) && token[:len(prefix)] == prefix {
			token = token[len(prefix):]
		}

		session, err := s.Auth.ValidateToken(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if perm != "" && !session.HasPermission(perm) {
			return nil, status.Error(codes.PermissionDenied, "missing permission "+perm)
		}

		return handler(context.WithValue(ctx, sessionContextKey, session), req)
	}
}

func rpcError(err error) error {
	if err == nil {
		return nil
	}
	var grpcCode codes.Code
	switch types.KindOf(err) {
	case types.KindValidation:
		grpcCode = codes.InvalidArgument
	case types.KindNotFound:
		grpcCode = codes.NotFound
	case types.KindConflict:
		grpcCode = codes.AlreadyExists
	case types.KindUnauthenticated:
		grpcCode = codes.Unauthenticated
	case types.KindForbidden:
		grpcCode = codes.PermissionDenied
	case types.KindResourceExhausted:
		grpcCode = codes.ResourceExhausted
	default:
		grpcCode = codes.Internal
	}
	return status.Error(grpcCode, err.Error())
}

func (r *RPCServer) CreateContainer(ctx context.Context, req *createContainerRequest) (*containerDTO, error) {
	id, err := r.Runtime.CreateContainer(ctx, req.Name, req.Image, req.Command, req.toOptions())
	if err != nil {
		return nil, rpcError(err)
	}
	c, err := r.Runtime.GetContainer(id)
	if err != nil {
		return nil, rpcError(err)
	}
	dto := containerFromType(c)
	return &dto, nil
}

type containerIDRequest struct {
	ID string `json:"id"`
}

func (r *RPCServer) GetContainer(ctx context.Context, req *containerIDRequest) (*containerDTO, error) {
	id, err := types.ParseContainerId(req.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	c, err := r.Runtime.GetContainer(id)
	if err != nil {
		return nil, rpcError(err)
	}
	dto := containerFromType(c)
	return &dto, nil
}

type listContainersRequest struct {
	Status string `json:"status,omitempty"`
	Name   string `json:"name,omitempty"`
}

type listContainersResponse struct {
	Containers []containerDTO `json:"containers"`
}

func (r *RPCServer) ListContainers(ctx context.Context, req *listContainersRequest) (*listContainersResponse, error) {
	filter := runtime.ListFilter{Status: types.ContainerStatus(req.Status), Name: req.Name}
	containers := r.Runtime.ListContainers(filter)
	out := make([]containerDTO, 0, len(containers))
	for _, c := range containers {
		out = append(out, containerFromType(c))
	}
	return &listContainersResponse{Containers: out}, nil
}

func (r *RPCServer) StartContainer(ctx context.Context, req *containerIDRequest) (*containerDTO, error) {
	id, err := types.ParseContainerId(req.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	if err := r.Runtime.StartContainer(ctx, id); err != nil {
		return nil, rpcError(err)
	}
	c, err := r.Runtime.GetContainer(id)
	if err != nil {
		return nil, rpcError(err)
	}
	dto := containerFromType(c)
	return &dto, nil
}

type stopContainerRequest struct {
	ID          string `json:"id"`
	GracePeriod int    `json:"grace_period_seconds,omitempty"`
}

func (r *RPCServer) StopContainer(ctx context.Context, req *stopContainerRequest) (*containerDTO, error) {
	id, err := types.ParseContainerId(req.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	grace := 10 * time.Second
	if req.GracePeriod > 0 {
		grace = time.Duration(req.GracePeriod) * time.Second
	}
	if err := r.Runtime.StopContainer(ctx, id, grace); err != nil {
		return nil, rpcError(err)
	}
	c, err := r.Runtime.GetContainer(id)
	if err != nil {
		return nil, rpcError(err)
	}
	dto := containerFromType(c)
	return &dto, nil
}

type removeContainerRequest struct {
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

type removeContainerResponse struct {
	ID string `json:"id"`
}

func (r *RPCServer) RemoveContainer(ctx context.Context, req *removeContainerRequest) (*removeContainerResponse, error) {
	id, err := types.ParseContainerId(req.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	if err := r.Runtime.RemoveContainer(ctx, id, req.Force); err != nil {
		return nil, rpcError(err)
	}
	return &removeContainerResponse{ID: id.String()}, nil
}

func (r *RPCServer) PullImage(ctx context.Context, req *pullImageRequest) (*imageDTO, error) {
	img, err := r.Images.Pull(ctx, req.Image)
	if err != nil {
		return nil, rpcError(err)
	}
	dto := imageFromType(img)
	return &dto, nil
}

type listImagesResponse struct {
	Images []imageDTO `json:"images"`
}

func (r *RPCServer) ListImages(ctx context.Context, req *struct{}) (*listImagesResponse, error) {
	images := r.Images.List()
	out := make([]imageDTO, 0, len(images))
	for _, img := range images {
		out = append(out, imageFromType(img))
	}
	return &listImagesResponse{Images: out}, nil
}

// unaryHandler adapts a (ctx, *Req) (*Resp, error) method into the
// grpc.MethodDesc.Handler shape grpc-go's dispatcher expects, without
// protoc-generated glue.
func unaryHandler[Req any, Resp any](fn func(*RPCServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(*RPCServer), ctx, req)
		}
		method, _ := grpc.Method(ctx)
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(*RPCServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var containerAPIServiceDesc = grpc.ServiceDesc{
	ServiceName: "polisd.ContainerAPI",
	HandlerType: (*RPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateContainer", Handler: unaryHandler((*RPCServer).CreateContainer)},
		{MethodName: "GetContainer", Handler: unaryHandler((*RPCServer).GetContainer)},
		{MethodName: "ListContainers", Handler: unaryHandler((*RPCServer).ListContainers)},
		{MethodName: "StartContainer", Handler: unaryHandler((*RPCServer).StartContainer)},
		{MethodName: "StopContainer", Handler: unaryHandler((*RPCServer).StopContainer)},
		{MethodName: "RemoveContainer", Handler: unaryHandler((*RPCServer).RemoveContainer)},
		{MethodName: "PullImage", Handler: unaryHandler((*RPCServer).PullImage)},
		{MethodName: "ListImages", Handler: unaryHandler((*RPCServer).ListImages)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "polisd/api.proto",
}
