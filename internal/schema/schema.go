// Package schema compiles the embedded gohome .proto files at startup and
// registers them with the global protobuf registry so that gRPC reflection,
// grpcurl and the textproto config loader all see the same descriptors.
package schema

import (
	"embed"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

//go:embed proto
var protoFS embed.FS

const (
	ConfigFile   = "gohome/config/v1/config.proto"
	RegistryFile = "gohome/registry/v1/registry.proto"
	BesmartFile  = "gohome/plugins/besmart/v1/besmart.proto"

	ConfigMessageName   = "gohome.config.v1.Config"
	RegistryServiceName = "gohome.registry.v1.Registry"
	BesmartServiceName  = "gohome.plugins.besmart.v1.BesmartService"
)

var (
	loadOnce sync.Once
	loadErr  error
	files    map[string]*desc.FileDescriptor
)

// Load parses and registers the embedded files. Safe to call repeatedly.
func Load() error {
	loadOnce.Do(func() {
		files, loadErr = parse(ConfigFile, RegistryFile, BesmartFile)
		if loadErr != nil {
			return
		}
		for _, name := range []string{ConfigFile, RegistryFile, BesmartFile} {
			fd := files[name].UnwrapFile()
			if _, err := protoregistry.GlobalFiles.FindFileByPath(fd.Path()); err == nil {
				continue
			}
			if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
				loadErr = fmt.Errorf("register %s: %w", name, err)
				return
			}
		}
	})
	return loadErr
}

func parse(names ...string) (map[string]*desc.FileDescriptor, error) {
	parser := protoparse.Parser{
		Accessor: func(filename string) (io.ReadCloser, error) {
			return protoFS.Open(path.Join("proto", filename))
		},
		LookupImport: desc.LoadFileDescriptor,
	}
	parsed, err := parser.ParseFiles(names...)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	out := make(map[string]*desc.FileDescriptor, len(parsed))
	for _, fd := range parsed {
		out[fd.GetName()] = fd
	}
	return out, nil
}

// ConfigMessage returns the descriptor of the root config message.
func ConfigMessage() (protoreflect.MessageDescriptor, error) {
	if err := Load(); err != nil {
		return nil, err
	}
	md := files[ConfigFile].FindMessage(ConfigMessageName)
	if md == nil {
		return nil, fmt.Errorf("message %s not found", ConfigMessageName)
	}
	return md.UnwrapMessage(), nil
}

// Service returns the descriptor of a service declared in file.
func Service(file, name string) (*desc.ServiceDescriptor, error) {
	if err := Load(); err != nil {
		return nil, err
	}
	fd, ok := files[file]
	if !ok {
		return nil, fmt.Errorf("schema file %s not loaded", file)
	}
	sd := fd.FindService(name)
	if sd == nil {
		return nil, fmt.Errorf("service %s not found in %s", name, file)
	}
	return sd, nil
}
