package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cuemby/nimbus/pkg/types"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	storagev1 "k8s.io/api/storage/v1"
	kubeerr "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
)

// Labels and annotations stamped on every managed object
const (
	LabelManagedBy   = "app.kubernetes.io/managed-by"
	LabelKind        = "nimbus.io/kind"
	LabelID          = "nimbus.io/id"
	LabelNetworkType = "nimbus.io/network-type"
	LabelNetwork     = "nimbus.io/network"

	AnnotationGeneration  = "nimbus.io/generation"
	AnnotationDisplayName = "nimbus.io/display-name"
	AnnotationReplicas    = "nimbus.io/replicas"
	AnnotationRestartedAt = "nimbus.io/restartedAt"

	managerName         = "nimbus"
	defaultStorageClass = "longhorn"
)

// Kube drives vm, service, volume and network resources through the
// Kubernetes API
type Kube struct {
	client  kubernetes.Interface
	timeout time.Duration
}

var _ Client = &Kube{}

// NewKube wraps a Kubernetes clientset. Every call is bounded by timeout.
func NewKube(client kubernetes.Interface, timeout time.Duration) *Kube {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Kube{client: client, timeout: timeout}
}

func (k *Kube) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, k.timeout)
}

func selectorFor(kind types.Kind) string {
	return fmt.Sprintf("%s=%s,%s=%s", LabelManagedBy, managerName, LabelKind, kind)
}

func objectMeta(obj *types.DesiredObject) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      obj.Ref.Name,
		Namespace: obj.Ref.Namespace,
		Labels: map[string]string{
			LabelManagedBy: managerName,
			LabelKind:      string(obj.Ref.Kind),
			LabelID:        obj.Ref.Name,
		},
		Annotations: map[string]string{
			AnnotationGeneration:  strconv.FormatInt(obj.Generation, 10),
			AnnotationDisplayName: obj.DisplayName,
		},
	}
}

// mergeMeta copies the managed labels and annotations onto an existing object
func mergeMeta(dst *metav1.ObjectMeta, src metav1.ObjectMeta) {
	if dst.Labels == nil {
		dst.Labels = map[string]string{}
	}
	for k, v := range src.Labels {
		dst.Labels[k] = v
	}
	if dst.Annotations == nil {
		dst.Annotations = map[string]string{}
	}
	for k, v := range src.Annotations {
		dst.Annotations[k] = v
	}
}

func (k *Kube) ListObjects(ctx context.Context, kind types.Kind, namespace string) ([]types.ObservedObject, error) {
	ctx, cancel := k.bound(ctx)
	defer cancel()

	var (
		out []types.ObservedObject
		err error
	)
	switch kind {
	case types.KindVM, types.KindService:
		out, err = k.listWorkloads(ctx, kind, namespace)
	case types.KindVolume:
		out, err = k.listVolumes(ctx, namespace)
	case types.KindNetwork:
		out, err = k.listNetworks(ctx, namespace)
	default:
		return nil, NewError(types.ErrorValidation, "list", types.ObjectRef{Kind: kind}, fmt.Errorf("unsupported kind %q", kind))
	}
	if err != nil {
		return nil, Wrap("list", types.ObjectRef{Kind: kind, Namespace: namespace}, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Name < out[j].Ref.Name })
	return out, nil
}

func (k *Kube) ApplyObject(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	ctx, cancel := k.bound(ctx)
	defer cancel()

	var (
		observed *types.ObservedObject
		err      error
	)
	switch obj.Ref.Kind {
	case types.KindVM, types.KindService:
		observed, err = k.applyWorkload(ctx, obj)
	case types.KindVolume:
		observed, err = k.applyVolume(ctx, obj)
	case types.KindNetwork:
		observed, err = k.applyNetwork(ctx, obj)
	default:
		return nil, NewError(types.ErrorValidation, "apply", obj.Ref, fmt.Errorf("unsupported kind %q", obj.Ref.Kind))
	}
	if err != nil {
		return nil, Wrap("apply", obj.Ref, err)
	}
	return observed, nil
}

func (k *Kube) DeleteObject(ctx context.Context, ref types.ObjectRef) error {
	ctx, cancel := k.bound(ctx)
	defer cancel()

	background := metav1.DeletePropagationBackground
	opts := metav1.DeleteOptions{PropagationPolicy: &background}

	var err error
	switch ref.Kind {
	case types.KindVM:
		err = k.client.AppsV1().Deployments(ref.Namespace).Delete(ctx, ref.Name, opts)
	case types.KindService:
		svcErr := k.client.CoreV1().Services(ref.Namespace).Delete(ctx, ref.Name, opts)
		deplErr := k.client.AppsV1().Deployments(ref.Namespace).Delete(ctx, ref.Name, opts)
		err = joinDeleteErrors(svcErr, deplErr)
	case types.KindVolume:
		err = k.client.CoreV1().PersistentVolumeClaims(ref.Namespace).Delete(ctx, ref.Name, opts)
	case types.KindNetwork:
		err = k.client.NetworkingV1().NetworkPolicies(ref.Namespace).Delete(ctx, ref.Name, opts)
	default:
		return NewError(types.ErrorValidation, "delete", ref, fmt.Errorf("unsupported kind %q", ref.Kind))
	}
	return Wrap("delete", ref, err)
}

// joinDeleteErrors reports NotFound only when every part was already gone
func joinDeleteErrors(errs ...error) error {
	var remaining []error
	notFound := 0
	for _, err := range errs {
		switch {
		case err == nil:
		case kubeerr.IsNotFound(err):
			notFound++
		default:
			remaining = append(remaining, err)
		}
	}
	if len(remaining) > 0 {
		return errors.Join(remaining...)
	}
	if notFound == len(errs) {
		return errs[0]
	}
	return nil
}

// Workloads: vm and service both run as Deployments

func (k *Kube) listWorkloads(ctx context.Context, kind types.Kind, namespace string) ([]types.ObservedObject, error) {
	opts := metav1.ListOptions{LabelSelector: selectorFor(kind)}
	depls, err := k.client.AppsV1().Deployments(namespace).List(ctx, opts)
	if err != nil {
		return nil, err
	}

	podIPs := map[string]string{}
	services := map[string]*corev1.Service{}
	switch kind {
	case types.KindVM:
		pods, err := k.client.CoreV1().Pods(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for i := range pods.Items {
			pod := &pods.Items[i]
			if pod.Status.Phase == corev1.PodRunning && pod.Status.PodIP != "" {
				podIPs[pod.Labels[LabelID]] = pod.Status.PodIP
			}
		}
	case types.KindService:
		svcs, err := k.client.CoreV1().Services(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for i := range svcs.Items {
			services[svcs.Items[i].Name] = &svcs.Items[i]
		}
	}

	out := make([]types.ObservedObject, 0, len(depls.Items))
	for i := range depls.Items {
		d := &depls.Items[i]
		obs := observeDeployment(kind, d)
		if ip, ok := podIPs[d.Name]; ok {
			obs.IP = ip
		}
		if svc, ok := services[d.Name]; ok {
			observeService(&obs, svc)
		} else if kind == types.KindService {
			obs.Ready = false
			obs.Message = "service object missing"
		}
		out = append(out, obs)
	}
	return out, nil
}

func observeDeployment(kind types.Kind, d *appsv1.Deployment) types.ObservedObject {
	spec := types.Spec{}
	replicas := 0
	if d.Spec.Replicas != nil {
		replicas = int(*d.Spec.Replicas)
	}
	spec[types.OptRunning] = strconv.FormatBool(replicas > 0)
	if kind == types.KindService {
		if n, ok := d.Annotations[AnnotationReplicas]; ok {
			spec[types.OptReplicas] = n
		} else {
			spec[types.OptReplicas] = strconv.Itoa(replicas)
		}
	}
	if ts, ok := d.Spec.Template.Annotations[AnnotationRestartedAt]; ok {
		spec[types.OptRestartedAt] = ts
	}

	if containers := d.Spec.Template.Spec.Containers; len(containers) > 0 {
		c := containers[0]
		spec[types.OptImage] = c.Image
		if kind == types.KindVM {
			if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
				spec[types.OptCPU] = q.String()
			}
			if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
				spec[types.OptMemory] = q.String()
			}
			if q, ok := c.Resources.Requests[corev1.ResourceEphemeralStorage]; ok {
				spec[types.OptDisk] = q.String()
			}
		}
		if kind == types.KindService && len(c.Ports) > 0 {
			spec[types.OptPort] = strconv.Itoa(int(c.Ports[0].ContainerPort))
		}
	}

	ready := int(d.Status.ReadyReplicas)
	obs := types.ObservedObject{
		Ref:           types.ObjectRef{Kind: kind, Namespace: d.Namespace, Name: d.Name},
		Spec:          spec,
		Replicas:      replicas,
		ReadyReplicas: ready,
		Ready:         ready >= replicas && d.Status.ObservedGeneration >= d.Generation,
	}
	switch {
	case replicas == 0:
		obs.Status = "Stopped"
	case obs.Ready:
		obs.Status = "Running"
	default:
		obs.Status = "Progressing"
		obs.Message = fmt.Sprintf("%d/%d replicas ready", ready, replicas)
	}
	return obs
}

func observeService(obs *types.ObservedObject, svc *corev1.Service) {
	obs.Spec[types.OptServiceType] = string(svc.Spec.Type)
	obs.IP = svc.Spec.ClusterIP
	if len(svc.Spec.Ports) == 0 {
		return
	}
	port := svc.Spec.Ports[0]
	obs.Spec[types.OptPort] = strconv.Itoa(int(port.Port))

	switch svc.Spec.Type {
	case corev1.ServiceTypeNodePort:
		if port.NodePort != 0 {
			obs.Endpoint = fmt.Sprintf("http://localhost:%d", port.NodePort)
		}
	case corev1.ServiceTypeLoadBalancer:
		for _, ing := range svc.Status.LoadBalancer.Ingress {
			host := ing.IP
			if host == "" {
				host = ing.Hostname
			}
			if host != "" {
				obs.Endpoint = fmt.Sprintf("%s:%d", host, port.Port)
				break
			}
		}
	default:
		if svc.Spec.ClusterIP != "" && svc.Spec.ClusterIP != corev1.ClusterIPNone {
			obs.Endpoint = fmt.Sprintf("%s:%d", svc.Spec.ClusterIP, port.Port)
		}
	}
}

func specInt(spec types.Spec, key string, def int) (int, error) {
	v, ok := spec[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func specBool(spec types.Spec, key string, def bool) bool {
	b, err := strconv.ParseBool(spec[key])
	if err != nil {
		return def
	}
	return b
}

func (k *Kube) buildDeployment(obj *types.DesiredObject) (*appsv1.Deployment, error) {
	kind := obj.Ref.Kind
	spec := obj.Spec

	replicas := 1
	if kind == types.KindService {
		n, err := specInt(spec, types.OptReplicas, 1)
		if err != nil {
			return nil, NewError(types.ErrorValidation, "apply", obj.Ref, err)
		}
		replicas = n
	}
	desiredReplicas := replicas
	if !specBool(spec, types.OptRunning, true) {
		replicas = 0
	}

	container := corev1.Container{
		Name:  string(kind),
		Image: spec[types.OptImage],
	}
	if kind == types.KindVM {
		requests := corev1.ResourceList{}
		for opt, name := range map[string]corev1.ResourceName{
			types.OptCPU:    corev1.ResourceCPU,
			types.OptMemory: corev1.ResourceMemory,
			types.OptDisk:   corev1.ResourceEphemeralStorage,
		} {
			v, ok := spec[opt]
			if !ok {
				continue
			}
			q, err := resource.ParseQuantity(v)
			if err != nil {
				return nil, NewError(types.ErrorValidation, "apply", obj.Ref, fmt.Errorf("%s: %w", opt, err))
			}
			requests[name] = q
		}
		container.Resources = corev1.ResourceRequirements{Requests: requests, Limits: requests.DeepCopy()}
	}
	if kind == types.KindService {
		port, err := specInt(spec, types.OptPort, 80)
		if err != nil {
			return nil, NewError(types.ErrorValidation, "apply", obj.Ref, err)
		}
		container.Ports = []corev1.ContainerPort{{ContainerPort: int32(port)}}
	}

	meta := objectMeta(obj)
	if kind == types.KindService {
		meta.Annotations[AnnotationReplicas] = strconv.Itoa(desiredReplicas)
	}
	podLabels := map[string]string{
		LabelManagedBy: managerName,
		LabelKind:      string(kind),
		LabelID:        obj.Ref.Name,
	}
	podAnnotations := map[string]string{}
	if ts := spec[types.OptRestartedAt]; ts != "" {
		podAnnotations[AnnotationRestartedAt] = ts
	}

	r := int32(replicas)
	return &appsv1.Deployment{
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			Replicas: &r,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{LabelID: obj.Ref.Name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels, Annotations: podAnnotations},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{container}},
			},
		},
	}, nil
}

func (k *Kube) applyWorkload(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	want, err := k.buildDeployment(obj)
	if err != nil {
		return nil, err
	}

	deployments := k.client.AppsV1().Deployments(obj.Ref.Namespace)
	current, err := deployments.Get(ctx, obj.Ref.Name, metav1.GetOptions{})
	var applied *appsv1.Deployment
	switch {
	case kubeerr.IsNotFound(err):
		applied, err = deployments.Create(ctx, want, metav1.CreateOptions{})
	case err != nil:
		return nil, err
	default:
		mergeMeta(&current.ObjectMeta, want.ObjectMeta)
		current.Spec.Replicas = want.Spec.Replicas
		current.Spec.Template = want.Spec.Template
		applied, err = deployments.Update(ctx, current, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, err
	}

	observed := observeDeployment(obj.Ref.Kind, applied)
	if obj.Ref.Kind == types.KindService {
		svc, err := k.applyService(ctx, obj)
		if err != nil {
			return nil, err
		}
		observeService(&observed, svc)
	}
	return &observed, nil
}

func (k *Kube) applyService(ctx context.Context, obj *types.DesiredObject) (*corev1.Service, error) {
	port, err := specInt(obj.Spec, types.OptPort, 80)
	if err != nil {
		return nil, NewError(types.ErrorValidation, "apply", obj.Ref, err)
	}
	svcType := corev1.ServiceType(obj.Spec[types.OptServiceType])
	if svcType == "" {
		svcType = corev1.ServiceTypeClusterIP
	}
	ports := []corev1.ServicePort{{
		Name:       "http",
		Port:       int32(port),
		TargetPort: intstr.FromInt32(int32(port)),
	}}

	services := k.client.CoreV1().Services(obj.Ref.Namespace)
	current, err := services.Get(ctx, obj.Ref.Name, metav1.GetOptions{})
	switch {
	case kubeerr.IsNotFound(err):
		return services.Create(ctx, &corev1.Service{
			ObjectMeta: objectMeta(obj),
			Spec: corev1.ServiceSpec{
				Type:     svcType,
				Selector: map[string]string{LabelID: obj.Ref.Name},
				Ports:    ports,
			},
		}, metav1.CreateOptions{})
	case err != nil:
		return nil, err
	}

	mergeMeta(&current.ObjectMeta, objectMeta(obj))
	if current.Spec.Type != svcType || len(current.Spec.Ports) == 0 || current.Spec.Ports[0].Port != int32(port) {
		// the API server reassigns node ports on type changes
		if len(current.Spec.Ports) > 0 && svcType != corev1.ServiceTypeClusterIP {
			ports[0].NodePort = current.Spec.Ports[0].NodePort
		}
		current.Spec.Type = svcType
		current.Spec.Ports = ports
	}
	return services.Update(ctx, current, metav1.UpdateOptions{})
}

// Volumes: PersistentVolumeClaims

// deferredBinding reports which of the storage classes of pending claims
// bind only once a pod consumes the claim. A class that cannot be read
// counts as binding immediately.
func (k *Kube) deferredBinding(ctx context.Context, pvcs []corev1.PersistentVolumeClaim) map[string]bool {
	deferred := make(map[string]bool)
	for i := range pvcs {
		pvc := &pvcs[i]
		if pvc.Status.Phase != corev1.ClaimPending || pvc.Spec.StorageClassName == nil {
			continue
		}
		name := *pvc.Spec.StorageClassName
		if _, seen := deferred[name]; seen {
			continue
		}
		sc, err := k.client.StorageV1().StorageClasses().Get(ctx, name, metav1.GetOptions{})
		deferred[name] = err == nil && sc.VolumeBindingMode != nil &&
			*sc.VolumeBindingMode == storagev1.VolumeBindingWaitForFirstConsumer
	}
	return deferred
}

// observePVC maps a claim to its observed volume. A claim is healthy once
// bound, or while pending on a class that waits for its first consumer.
func observePVC(pvc *corev1.PersistentVolumeClaim, deferred map[string]bool) types.ObservedObject {
	spec := types.Spec{}
	if q, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		spec[types.OptSize] = q.String()
	}
	if pvc.Spec.StorageClassName != nil {
		spec[types.OptStorageClass] = *pvc.Spec.StorageClassName
	}
	ready := pvc.Status.Phase == corev1.ClaimBound
	status := string(pvc.Status.Phase)
	if pvc.Status.Phase == corev1.ClaimPending && deferred[spec[types.OptStorageClass]] {
		ready = true
		status = "WaitingForFirstConsumer"
	}
	return types.ObservedObject{
		Ref:      types.ObjectRef{Kind: types.KindVolume, Namespace: pvc.Namespace, Name: pvc.Name},
		Spec:     spec,
		Ready:    ready,
		Status:   status,
		Replicas: 1,
	}
}

func (k *Kube) listVolumes(ctx context.Context, namespace string) ([]types.ObservedObject, error) {
	pvcs, err := k.client.CoreV1().PersistentVolumeClaims(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selectorFor(types.KindVolume),
	})
	if err != nil {
		return nil, err
	}
	deferred := k.deferredBinding(ctx, pvcs.Items)
	out := make([]types.ObservedObject, 0, len(pvcs.Items))
	for i := range pvcs.Items {
		out = append(out, observePVC(&pvcs.Items[i], deferred))
	}
	return out, nil
}

func (k *Kube) applyVolume(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	size, err := resource.ParseQuantity(obj.Spec[types.OptSize])
	if err != nil {
		return nil, NewError(types.ErrorValidation, "apply", obj.Ref, fmt.Errorf("size: %w", err))
	}
	storageClass := obj.Spec[types.OptStorageClass]
	if storageClass == "" {
		storageClass = defaultStorageClass
	}

	claims := k.client.CoreV1().PersistentVolumeClaims(obj.Ref.Namespace)
	current, err := claims.Get(ctx, obj.Ref.Name, metav1.GetOptions{})
	var applied *corev1.PersistentVolumeClaim
	switch {
	case kubeerr.IsNotFound(err):
		applied, err = claims.Create(ctx, &corev1.PersistentVolumeClaim{
			ObjectMeta: objectMeta(obj),
			Spec: corev1.PersistentVolumeClaimSpec{
				AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				StorageClassName: &storageClass,
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{corev1.ResourceStorage: size},
				},
			},
		}, metav1.CreateOptions{})
	case err != nil:
		return nil, err
	default:
		if current.Spec.StorageClassName != nil && *current.Spec.StorageClassName != storageClass {
			return nil, NewError(types.ErrorValidation, "apply", obj.Ref,
				fmt.Errorf("storage class is immutable (%s -> %s)", *current.Spec.StorageClassName, storageClass))
		}
		mergeMeta(&current.ObjectMeta, objectMeta(obj))
		if current.Spec.Resources.Requests == nil {
			current.Spec.Resources.Requests = corev1.ResourceList{}
		}
		current.Spec.Resources.Requests[corev1.ResourceStorage] = size
		applied, err = claims.Update(ctx, current, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, err
	}
	observed := observePVC(applied, k.deferredBinding(ctx, []corev1.PersistentVolumeClaim{*applied}))
	return &observed, nil
}

// Networks: NetworkPolicies admitting traffic from the declared CIDR

func observeNetworkPolicy(np *networkingv1.NetworkPolicy) types.ObservedObject {
	spec := types.Spec{}
	if t, ok := np.Labels[LabelNetworkType]; ok {
		spec[types.OptType] = t
	}
	for _, rule := range np.Spec.Ingress {
		for _, peer := range rule.From {
			if peer.IPBlock != nil && spec[types.OptCIDR] == "" {
				spec[types.OptCIDR] = peer.IPBlock.CIDR
			}
		}
	}
	return types.ObservedObject{
		Ref:      types.ObjectRef{Kind: types.KindNetwork, Namespace: np.Namespace, Name: np.Name},
		Spec:     spec,
		Ready:    true,
		Status:   "Active",
		Replicas: 1,
	}
}

func (k *Kube) listNetworks(ctx context.Context, namespace string) ([]types.ObservedObject, error) {
	nps, err := k.client.NetworkingV1().NetworkPolicies(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selectorFor(types.KindNetwork),
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.ObservedObject, 0, len(nps.Items))
	for i := range nps.Items {
		out = append(out, observeNetworkPolicy(&nps.Items[i]))
	}
	return out, nil
}

func (k *Kube) applyNetwork(ctx context.Context, obj *types.DesiredObject) (*types.ObservedObject, error) {
	meta := objectMeta(obj)
	netType := obj.Spec[types.OptType]
	if netType == "" {
		netType = types.Defaults(types.KindNetwork)[types.OptType]
	}
	meta.Labels[LabelNetworkType] = netType

	spec := networkingv1.NetworkPolicySpec{
		PodSelector: metav1.LabelSelector{MatchLabels: map[string]string{LabelNetwork: obj.Ref.Name}},
		Ingress: []networkingv1.NetworkPolicyIngressRule{{
			From: []networkingv1.NetworkPolicyPeer{{
				IPBlock: &networkingv1.IPBlock{CIDR: obj.Spec[types.OptCIDR]},
			}},
		}},
		PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
	}

	policies := k.client.NetworkingV1().NetworkPolicies(obj.Ref.Namespace)
	current, err := policies.Get(ctx, obj.Ref.Name, metav1.GetOptions{})
	var applied *networkingv1.NetworkPolicy
	switch {
	case kubeerr.IsNotFound(err):
		applied, err = policies.Create(ctx, &networkingv1.NetworkPolicy{ObjectMeta: meta, Spec: spec}, metav1.CreateOptions{})
	case err != nil:
		return nil, err
	default:
		mergeMeta(&current.ObjectMeta, meta)
		current.Spec = spec
		applied, err = policies.Update(ctx, current, metav1.UpdateOptions{})
	}
	if err != nil {
		return nil, err
	}
	observed := observeNetworkPolicy(applied)
	return &observed, nil
}
