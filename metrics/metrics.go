package metrics

/*
constant labels are fixed at registration
per-series labels are bound with Values, order matching the labels slice
*/

type VecOptions struct {
	name      string
	help      string
	namespace string
	subSystem string
	labels    []string
	buckets   []float64
}

func newVecOptions() *VecOptions {
	return &VecOptions{
		name:      "vec",
		help:      "help",
		namespace: "spinlock",
		subSystem: "stress",
		labels:    []string{"protocol"},
		// spin sections run tens of nanoseconds to a few microseconds
		buckets: []float64{5e-08, 1e-07, 2.5e-07, 5e-07, 1e-06, 2.5e-06, 5e-06, 1e-05},
	}
}

type VecOpts func(options *VecOptions)

func Name(name string) VecOpts {
	return func(o *VecOptions) {
		o.name = name
	}
}

func Help(h string) VecOpts {
	return func(o *VecOptions) {
		o.help = h
	}
}

func Namespace(ns string) VecOpts {
	return func(o *VecOptions) {
		o.namespace = ns
	}
}

func SubSystem(s string) VecOpts {
	return func(o *VecOptions) {
		o.subSystem = s
	}
}

func Labels(labels []string) VecOpts {
	return func(o *VecOptions) {
		o.labels = labels
	}
}

func Buckets(buckets []float64) VecOpts {
	return func(o *VecOptions) {
		o.buckets = buckets
	}
}
