package operations

import (
	"github.com/sirupsen/logrus"

	"image-pipeline/internal/params"
)

// Categories of the built-in kinds
const (
	CategoryBasic     = "basic"
	CategoryColor     = "color"
	CategoryFilters   = "filters"
	CategoryEffects   = "effects"
	CategoryTransform = "transform"
	CategoryNoise     = "noise"
	CategoryOpenCV    = "opencv"
)

// Builtin pairs a kind with the factory that implements it
type Builtin struct {
	Kind    Kind
	Factory Factory
}

// Builtins returns every operation this package ships, in catalog order
func Builtins() []Builtin {
	return []Builtin{
		{
			Kind: Kind{
				ID: "brightness", Name: "Brightness", Description: "Adjust image brightness",
				Icon: "☀️", Category: CategoryBasic,
				Schema: params.Schema{params.Range("value", -100, 100, 0)},
			},
			Factory: stateless(processBrightness),
		},
		{
			Kind: Kind{
				ID: "contrast", Name: "Contrast", Description: "Adjust image contrast",
				Icon: "◐", Category: CategoryBasic,
				Schema: params.Schema{params.Range("value", -100, 100, 0)},
			},
			Factory: stateless(processContrast),
		},
		{
			Kind: Kind{
				ID: "saturation", Name: "Saturation", Description: "Adjust color saturation",
				Icon: "🎨", Category: CategoryColor,
				Schema: params.Schema{params.Range("value", -100, 100, 0)},
			},
			Factory: stateless(processSaturation),
		},
		{
			Kind: Kind{
				ID: "hue", Name: "Hue Rotation", Description: "Rotate image hue",
				Icon: "🌈", Category: CategoryColor,
				Schema: params.Schema{params.Range("value", 0, 360, 0)},
			},
			Factory: stateless(processHue),
		},
		{
			Kind: Kind{
				ID: "blur", Name: "Gaussian Blur", Description: "Apply gaussian blur effect",
				Icon: "🌫️", Category: CategoryFilters,
				Schema: params.Schema{params.Range("radius", 1, 50, 5)},
			},
			Factory: stateless(processBlur),
		},
		{
			Kind: Kind{
				ID: "sharpen", Name: "Sharpen", Description: "Enhance image sharpness",
				Icon: "✨", Category: CategoryFilters,
				Schema: params.Schema{params.Range("amount", 0, 100, 50)},
			},
			Factory: stateless(processSharpen),
		},
		{
			Kind: Kind{
				ID: "grayscale", Name: "Grayscale", Description: "Convert to black and white",
				Icon: "⚫", Category: CategoryEffects,
				Schema: params.Schema{},
			},
			Factory: stateless(processGrayscale),
		},
		{
			Kind: Kind{
				ID: "sepia", Name: "Sepia", Description: "Apply vintage sepia effect",
				Icon: "🌅", Category: CategoryEffects,
				Schema: params.Schema{params.Range("intensity", 0, 100, 100)},
			},
			Factory: stateless(processSepia),
		},
		{
			Kind: Kind{
				ID: "rotate", Name: "Rotate", Description: "Rotate image by degrees",
				Icon: "🔄", Category: CategoryTransform,
				Schema: params.Schema{params.Range("angle", -180, 180, 0)},
			},
			Factory: stateless(processRotate),
		},
		{
			Kind: Kind{
				ID: "flip", Name: "Flip", Description: "Flip image horizontally or vertically",
				Icon: "↔️", Category: CategoryTransform,
				Schema: params.Schema{params.Select("direction", []string{"horizontal", "vertical"}, "horizontal")},
			},
			Factory: stateless(processFlip),
		},
		{
			Kind: Kind{
				ID: "add_noise", Name: "Add Noise", Description: "Add random noise to the image",
				Icon: "🎲", Category: CategoryNoise,
				Schema: params.Schema{
					params.Range("amount", 0, 100, 25),
					params.Select("type", []string{"gaussian", "uniform", "salt_and_pepper"}, "gaussian"),
				},
			},
			Factory: stateless(processAddNoise),
		},
		{
			Kind: Kind{
				ID: "denoise", Name: "Denoise", Description: "Remove noise from the image",
				Icon: "✨", Category: CategoryNoise,
				Schema: params.Schema{
					params.Range("strength", 1, 50, 10),
					params.Select("method", []string{"gaussian", "median", "non_local_means"}, "non_local_means"),
				},
			},
			Factory: stateless(processDenoise),
		},
		{
			Kind: Kind{
				ID: "canny_edge", Name: "Canny Edge", Description: "Detect edges using Canny algorithm",
				Icon: "🔲", Category: CategoryOpenCV, Subcategory: "edge_detection",
				Schema: params.Schema{
					params.Range("threshold1", 0, 255, 100),
					params.Range("threshold2", 0, 255, 200),
				},
			},
			Factory: stateless(processCanny),
		},
		{
			Kind: Kind{
				ID: "adaptive_threshold", Name: "Adaptive Threshold", Description: "Apply adaptive thresholding",
				Icon: "⬜", Category: CategoryOpenCV, Subcategory: "edge_detection",
				Schema: params.Schema{
					params.Range("block_size", 3, 99, 11).WithStep(2),
					params.Range("c", -10, 10, 2),
					params.Select("method", []string{"gaussian", "mean"}, "gaussian"),
					params.Select("threshold_type", []string{"binary", "binary_inv"}, "binary"),
				},
			},
			Factory: stateless(processAdaptiveThreshold),
		},
		{
			Kind: Kind{
				ID: "contour_draw", Name: "Draw Contours", Description: "Find and draw contours in the image",
				Icon: "📏", Category: CategoryOpenCV, Subcategory: "edge_detection",
				Schema: params.Schema{
					params.Range("threshold", 0, 255, 127),
					params.Range("thickness", 1, 10, 2),
				},
			},
			Factory: stateless(processContourDraw),
		},
		{
			Kind: Kind{
				ID: "morphology", Name: "Morphological Ops", Description: "Apply morphological operations (erosion, dilation, etc.)",
				Icon: "🔄", Category: CategoryOpenCV, Subcategory: "morphological",
				Schema: params.Schema{
					params.Select("operation", []string{"erode", "dilate", "open", "close", "gradient"}, "dilate"),
					params.Range("kernel_size", 1, 15, 3).WithStep(2),
					params.Range("iterations", 1, 10, 1),
				},
			},
			Factory: stateless(processMorphology),
		},
		{
			Kind: Kind{
				ID: "template_matching", Name: "Template Match", Description: "Find template pattern in image",
				Icon: "🔍", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.File("template_path", "Path to template image"),
					params.Range("threshold", 0.1, 1.0, 0.8).WithStep(0.1).WithDescription("Matching threshold"),
				},
			},
			Factory: stateless(processTemplateMatching),
		},
		{
			Kind: Kind{
				ID: "background_subtraction", Name: "Background Subtraction", Description: "Detect moving objects using background subtraction",
				Icon: "🎬", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Select("method", []string{"mog2", "knn"}, "mog2"),
					params.Range("threshold", 0, 255, 127),
					params.Range("min_area", 100, 5000, 500),
				},
			},
			Factory: newBackgroundSubtraction,
		},
		{
			Kind: Kind{
				ID: "optical_flow", Name: "Optical Flow", Description: "Track motion using optical flow",
				Icon: "➡️", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Range("max_corners", 10, 500, 100).WithDescription("Maximum number of corners to track"),
				},
			},
			Factory: newOpticalFlow,
		},
		{
			Kind: Kind{
				ID: "corner_detection", Name: "Corner Detection", Description: "Detect corners using Harris or FAST algorithm",
				Icon: "📍", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Select("method", []string{"harris", "fast"}, "harris"),
					params.Range("threshold", 1, 50, 10),
					params.Range("k", 1, 20, 5).WithDescription("Harris corner detector free parameter"),
				},
			},
			Factory: stateless(processCornerDetection),
		},
		{
			Kind: Kind{
				ID: "sift_detection", Name: "SIFT", Description: "Detect SIFT keypoints and descriptors",
				Icon: "🔍", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Range("max_features", 10, 1000, 100),
					params.Range("contrast_threshold", 1, 50, 10),
					params.Range("edge_threshold", 1, 50, 10),
				},
			},
			Factory: stateless(processSIFT),
		},
		{
			Kind: Kind{
				ID: "orb_detection", Name: "ORB", Description: "Detect ORB keypoints (faster alternative to SIFT)",
				Icon: "🎯", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Range("max_features", 100, 2000, 500),
					params.Range("scale_levels", 3, 15, 8),
				},
			},
			Factory: stateless(processORB),
		},
		{
			Kind: Kind{
				ID: "blob_detection", Name: "Blob Detection", Description: "Detect blobs using SimpleBlobDetector",
				Icon: "⭕", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Range("min_area", 10, 1000, 100),
					params.Range("max_area", 1000, 10000, 5000),
					params.Select("filter_circularity", []string{"True", "False"}, "True"),
					params.Range("min_circularity", 10, 100, 80),
				},
			},
			Factory: stateless(processBlobDetection),
		},
		{
			Kind: Kind{
				ID: "good_features", Name: "Good Features", Description: "Detect good features to track using Shi-Tomasi method",
				Icon: "📌", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Range("max_corners", 10, 200, 50),
					params.Range("quality_level", 1, 99, 1),
					params.Range("min_distance", 5, 50, 10),
				},
			},
			Factory: stateless(processGoodFeatures),
		},
		{
			Kind: Kind{
				ID: "haar_cascade", Name: "Haar Cascade", Description: "Detect objects using Haar Cascade classifiers",
				Icon: "👁️", Category: CategoryOpenCV, Subcategory: "object_detection",
				Schema: params.Schema{
					params.Select("detector", []string{"face", "eye", "smile", "body"}, "face"),
					params.Range("scale_factor", 1.1, 2.0, 1.1).WithStep(0.1),
					params.Range("min_neighbors", 1, 10, 5),
					params.File("cascade_dir", "Directory holding the haarcascade_*.xml files"),
				},
			},
			Factory: newHaarCascade,
		},
		{
			Kind: Kind{
				ID: "watershed", Name: "Watershed", Description: "Segment image using watershed algorithm",
				Icon: "💧", Category: CategoryOpenCV, Subcategory: "segmentation",
				Schema: params.Schema{
					params.Range("foreground_threshold", 1, 90, 20).WithDescription("Percent of the peak distance that marks sure foreground"),
				},
			},
			Factory: stateless(processWatershed),
		},
		{
			Kind: Kind{
				ID: "grabcut", Name: "GrabCut", Description: "Segment image using GrabCut algorithm",
				Icon: "✂️", Category: CategoryOpenCV, Subcategory: "segmentation",
				Schema: params.Schema{
					params.Range("margin", 5, 100, 10),
					params.Range("iterations", 1, 10, 5),
				},
			},
			Factory: stateless(processGrabCut),
		},
		{
			Kind: Kind{
				ID: "kmeans_segment", Name: "K-Means", Description: "Segment image using K-means clustering",
				Icon: "🎯", Category: CategoryOpenCV, Subcategory: "segmentation",
				Schema: params.Schema{params.Range("clusters", 2, 10, 5)},
			},
			Factory: stateless(processKMeans),
		},
		{
			Kind: Kind{
				ID: "meanshift_segment", Name: "Mean Shift", Description: "Segment image using mean shift clustering",
				Icon: "🎯", Category: CategoryOpenCV, Subcategory: "segmentation",
				Schema: params.Schema{params.Range("max_clusters", 2, 20, 8)},
			},
			Factory: stateless(processMeanShift),
		},
		{
			Kind: Kind{
				ID: "color_space", Name: "Color Space Convert", Description: "Convert image between different color spaces",
				Icon: "🎨", Category: CategoryOpenCV, Subcategory: "color",
				Schema: params.Schema{params.Select("space", []string{"gray", "hsv", "lab", "yuv", "luv"}, "hsv")},
			},
			Factory: stateless(processColorSpace),
		},
		{
			Kind: Kind{
				ID: "histogram_eq", Name: "Histogram Equalization", Description: "Enhance image contrast using histogram equalization",
				Icon: "📊", Category: CategoryOpenCV, Subcategory: "color",
				Schema: params.Schema{
					params.Select("method", []string{"global", "clahe"}, "clahe"),
					params.Range("clip_limit", 1, 10, 2).WithDescription("Threshold for contrast limiting in CLAHE"),
				},
			},
			Factory: stateless(processHistogramEq),
		},
		{
			Kind: Kind{
				ID: "otsu_threshold", Name: "Otsu Threshold", Description: "Segment gray levels with single or multi-level Otsu thresholds",
				Icon: "🌓", Category: CategoryOpenCV, Subcategory: "segmentation",
				Schema: params.Schema{
					params.Range("levels", 2, 4, 2).WithDescription("Number of classes (2 = one threshold)"),
					params.Range("max_value", 0, 255, 255).WithLabel("Max Value"),
				},
			},
			Factory: stateless(processOtsu),
		},
		{
			Kind: Kind{
				ID: "local_threshold", Name: "Local Threshold", Description: "Binarize using window statistics (Niblack, Sauvola, Wolf-Jolion)",
				Icon: "🧩", Category: CategoryOpenCV, Subcategory: "segmentation",
				Schema: params.Schema{
					params.Select("method", []string{"niblack", "sauvola", "wolf"}, "sauvola"),
					params.Range("window_size", 3, 101, 15).WithStep(2).WithLabel("Window Size"),
					params.Range("k", -1, 1, 0.2).WithStep(0.05).WithDescription("Sensitivity to local deviation"),
				},
			},
			Factory: stateless(processLocalThreshold),
		},
	}
}

// Default builds a registry holding every built-in operation
func Default(logger logrus.FieldLogger) *Registry {
	registry := NewRegistry(logger)
	for _, b := range Builtins() {
		registry.Register(b.Kind, b.Factory)
	}
	return registry
}
