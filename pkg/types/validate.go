package types

import (
	"net"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation"
)

// quantityFields are options holding resource quantities
var quantityFields = map[string]bool{
	OptCPU:    true,
	OptMemory: true,
	OptDisk:   true,
	OptSize:   true,
}

// IsQuantityField reports whether an option holds a resource quantity
func IsQuantityField(option string) bool {
	return quantityFields[option]
}

// ValidateID checks that an id can name an orchestrator object
func ValidateID(id string) error {
	if errs := validation.IsDNS1123Label(id); len(errs) > 0 {
		return &ValidationError{Field: "id", Message: strings.Join(errs, "; ")}
	}
	return nil
}

// ValidateSpec checks the options of a full desired spec for a kind
func ValidateSpec(kind Kind, spec Spec) error {
	if !kind.Valid() {
		return &ValidationError{Field: "kind", Message: "unknown kind " + strconv.Quote(string(kind))}
	}

	required := map[Kind][]string{
		KindVM:              {OptImage},
		KindService:         {OptImage},
		KindVolume:          {OptSize},
		KindNetwork:         {OptCIDR},
		KindGenericResource: {OptChart},
	}
	for _, field := range required[kind] {
		if spec[field] == "" {
			return &ValidationError{Field: field, Message: "required"}
		}
	}

	for key, value := range spec {
		if err := validateOption(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateOption(key, value string) error {
	switch {
	case quantityFields[key]:
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return &ValidationError{Field: key, Message: err.Error()}
		}
		if q.Sign() < 0 {
			return &ValidationError{Field: key, Message: "must not be negative"}
		}
	case key == OptReplicas:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return &ValidationError{Field: key, Message: "must be a non-negative integer"}
		}
	case key == OptPort:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 || n > 65535 {
			return &ValidationError{Field: key, Message: "must be a port number"}
		}
	case key == OptRunning:
		if _, err := strconv.ParseBool(value); err != nil {
			return &ValidationError{Field: key, Message: "must be true or false"}
		}
	case key == OptServiceType:
		switch value {
		case "ClusterIP", "NodePort", "LoadBalancer":
		default:
			return &ValidationError{Field: key, Message: "must be ClusterIP, NodePort or LoadBalancer"}
		}
	case key == OptCIDR:
		ip, _, err := net.ParseCIDR(value)
		if err != nil {
			return &ValidationError{Field: key, Message: err.Error()}
		}
		if ip.To4() == nil {
			return &ValidationError{Field: key, Message: "only IPv4 networks are supported"}
		}
	case strings.HasPrefix(key, ValuesPrefix):
		if len(key) == len(ValuesPrefix) {
			return &ValidationError{Field: key, Message: "empty value name"}
		}
	}
	return nil
}

// Gateway returns the first host address of an IPv4 CIDR ("10.0.1.0/24" -> "10.0.1.1")
func Gateway(cidr string) string {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}
	ip := ipnet.IP.To4()
	if ip == nil {
		return ""
	}
	gw := make(net.IP, len(ip))
	copy(gw, ip)
	gw[3]++
	return gw.String()
}
