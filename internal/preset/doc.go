// Package preset 聚合前端框架预设（react / preact / vanilla），并提供统一的注册入口。
//
// 预设作者需要：
//  1. 在 internal/preset/<key>/ 目录下声明 JSX 与 loader 设置；
//  2. 通过本包暴露的 MustRegister 在 init() 中注册元数据；
//  3. 保持 Loaders 的扩展名以 "." 开头，供 bundler 直接映射为 esbuild loader。
package preset
