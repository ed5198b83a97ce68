package webgpu

// WGSL compute shaders for tensor layout conversion.
// Using string constants instead of embed for simplicity.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// Layout conversion kernels move tensors between the linear NCHW or
// NHWC device buffers and the channel-packed NC4HW4 image tiles. An
// image tile holds vec4 texels laid out as rows of width
// ceil(C/4)*W, one row per N*H.

// nchwToImageShader packs a linear NCHW buffer into NC4HW4 texels.
const nchwToImageShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<vec4<f32>>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let c4 = (params.c + 3u) / 4u;
    let total = params.n * c4 * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let wi = idx % params.w;
    let hi = (idx / params.w) % params.h;
    let ci = (idx / (params.w * params.h)) % c4;
    let ni = idx / (params.w * params.h * c4);

    var texel = vec4<f32>(0.0);
    for (var k = 0u; k < 4u; k = k + 1u) {
        let ch = ci * 4u + k;
        if (ch < params.c) {
            let src_idx = ((ni * params.c + ch) * params.h + hi) * params.w + wi;
            texel[k] = src[src_idx];
        }
    }
    dst[idx] = texel;
}
`

// imageToNCHWShader unpacks NC4HW4 texels into a linear NCHW buffer.
const imageToNCHWShader = `
@group(0) @binding(0) var<storage, read> src: array<vec4<f32>>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let total = params.n * params.c * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let wi = idx % params.w;
    let hi = (idx / params.w) % params.h;
    let ci = (idx / (params.w * params.h)) % params.c;
    let ni = idx / (params.w * params.h * params.c);

    let c4 = (params.c + 3u) / 4u;
    let src_idx = ((ni * c4 + ci / 4u) * params.h + hi) * params.w + wi;
    dst[idx] = src[src_idx][ci % 4u];
}
`

// nhwcToImageShader packs a linear NHWC buffer into NC4HW4 texels.
const nhwcToImageShader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<vec4<f32>>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let c4 = (params.c + 3u) / 4u;
    let total = params.n * c4 * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let wi = idx % params.w;
    let hi = (idx / params.w) % params.h;
    let ci = (idx / (params.w * params.h)) % c4;
    let ni = idx / (params.w * params.h * c4);

    var texel = vec4<f32>(0.0);
    for (var k = 0u; k < 4u; k = k + 1u) {
        let ch = ci * 4u + k;
        if (ch < params.c) {
            let src_idx = ((ni * params.h + hi) * params.w + wi) * params.c + ch;
            texel[k] = src[src_idx];
        }
    }
    dst[idx] = texel;
}
`

// imageToNHWCShader unpacks NC4HW4 texels into a linear NHWC buffer.
const imageToNHWCShader = `
@group(0) @binding(0) var<storage, read> src: array<vec4<f32>>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let total = params.n * params.c * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let ci = idx % params.c;
    let wi = (idx / params.c) % params.w;
    let hi = (idx / (params.c * params.w)) % params.h;
    let ni = idx / (params.c * params.w * params.h);

    let c4 = (params.c + 3u) / 4u;
    let src_idx = ((ni * c4 + ci / 4u) * params.h + hi) * params.w + wi;
    dst[idx] = src[src_idx][ci % 4u];
}
`

// Half-float tile variants. A half texel is two u32 words holding
// four packed f16 values, so no shader-f16 extension is needed.

// nchwToImageF16Shader packs a linear NCHW f32 buffer into half
// NC4HW4 texels.
const nchwToImageF16Shader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<vec2<u32>>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let c4 = (params.c + 3u) / 4u;
    let total = params.n * c4 * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let wi = idx % params.w;
    let hi = (idx / params.w) % params.h;
    let ci = (idx / (params.w * params.h)) % c4;
    let ni = idx / (params.w * params.h * c4);

    var texel = vec4<f32>(0.0);
    for (var k = 0u; k < 4u; k = k + 1u) {
        let ch = ci * 4u + k;
        if (ch < params.c) {
            let src_idx = ((ni * params.c + ch) * params.h + hi) * params.w + wi;
            texel[k] = src[src_idx];
        }
    }
    dst[idx] = vec2<u32>(pack2x16float(texel.xy), pack2x16float(texel.zw));
}
`

// imageToNCHWF16Shader unpacks half NC4HW4 texels into a linear NCHW
// f32 buffer.
const imageToNCHWF16Shader = `
@group(0) @binding(0) var<storage, read> src: array<vec2<u32>>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let total = params.n * params.c * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let wi = idx % params.w;
    let hi = (idx / params.w) % params.h;
    let ci = (idx / (params.w * params.h)) % params.c;
    let ni = idx / (params.w * params.h * params.c);

    let c4 = (params.c + 3u) / 4u;
    let t = src[((ni * c4 + ci / 4u) * params.h + hi) * params.w + wi];
    var vals = vec4<f32>(unpack2x16float(t.x), unpack2x16float(t.y));
    dst[idx] = vals[ci % 4u];
}
`

// nhwcToImageF16Shader packs a linear NHWC f32 buffer into half
// NC4HW4 texels.
const nhwcToImageF16Shader = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<vec2<u32>>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let c4 = (params.c + 3u) / 4u;
    let total = params.n * c4 * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let wi = idx % params.w;
    let hi = (idx / params.w) % params.h;
    let ci = (idx / (params.w * params.h)) % c4;
    let ni = idx / (params.w * params.h * c4);

    var texel = vec4<f32>(0.0);
    for (var k = 0u; k < 4u; k = k + 1u) {
        let ch = ci * 4u + k;
        if (ch < params.c) {
            let src_idx = ((ni * params.h + hi) * params.w + wi) * params.c + ch;
            texel[k] = src[src_idx];
        }
    }
    dst[idx] = vec2<u32>(pack2x16float(texel.xy), pack2x16float(texel.zw));
}
`

// imageToNHWCF16Shader unpacks half NC4HW4 texels into a linear NHWC
// f32 buffer.
const imageToNHWCF16Shader = `
@group(0) @binding(0) var<storage, read> src: array<vec2<u32>>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

struct Params {
    n: u32,
    c: u32,
    h: u32,
    w: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let total = params.n * params.c * params.h * params.w;
    let idx = global_id.x;
    if (idx >= total) {
        return;
    }

    let ci = idx % params.c;
    let wi = (idx / params.c) % params.w;
    let hi = (idx / (params.c * params.w)) % params.h;
    let ni = idx / (params.c * params.w * params.h);

    let c4 = (params.c + 3u) / 4u;
    let t = src[((ni * c4 + ci / 4u) * params.h + hi) * params.w + wi];
    var vals = vec4<f32>(unpack2x16float(t.x), unpack2x16float(t.y));
    dst[idx] = vals[ci % 4u];
}
`

// conversionShaders indexes every conversion kernel by name for
// compilation and cache warm-up.
var conversionShaders = map[string]string{
	"nchw_to_image":     nchwToImageShader,
	"image_to_nchw":     imageToNCHWShader,
	"nhwc_to_image":     nhwcToImageShader,
	"image_to_nhwc":     imageToNHWCShader,
	"nchw_to_image_f16": nchwToImageF16Shader,
	"image_to_nchw_f16": imageToNCHWF16Shader,
	"nhwc_to_image_f16": nhwcToImageF16Shader,
	"image_to_nhwc_f16": imageToNHWCF16Shader,
}
